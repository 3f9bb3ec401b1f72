package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPhasesRunInOrder(t *testing.T) {
	sh := NewManager(zap.NewNop())
	var (
		mu    sync.Mutex
		trail []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			trail = append(trail, name)
			mu.Unlock()
			return nil
		}
	}
	sh.RegisterShutdown(PhaseStorage, "db", record("db"))
	sh.RegisterShutdown(PhaseListeners, "http", record("http"))
	sh.RegisterShutdown(PhaseWorkers, "engine", record("engine"))

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "engine", "db"}, trail)

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, trail, 3, "second call is a no-op")
}

func TestErrorsAreJoined(t *testing.T) {
	sh := NewManager(zap.NewNop())
	boom := errors.New("boom")
	sh.RegisterCloser(PhaseWorkers, "a", func() error { return boom })
	ran := false
	sh.RegisterCloser(PhaseStorage, "b", func() error { ran = true; return nil })

	err := sh.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a shutdown")
	assert.True(t, ran, "a failing phase does not stop later phases")
}

func TestTimeoutAbortsLaterPhases(t *testing.T) {
	sh := NewManager(zap.NewNop())
	release := make(chan struct{})
	defer close(release)
	sh.RegisterShutdown(PhaseListeners, "slow", func(context.Context) error {
		<-release
		return nil
	})
	ran := false
	sh.RegisterCloser(PhaseStorage, "db", func() error { ran = true; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sh.Shutdown(ctx), context.DeadlineExceeded)
	assert.False(t, ran)
}
