package credential

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/victorgomez09/sentinel/internal/auth/models"
)

var testParams = Params{Iterations: 1000, KeyLength: 128, SaltLength: 32}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	pool := NewPool(2)
	t.Cleanup(pool.Close)
	h, err := NewHasher(testParams, pool)
	require.NoError(t, err)
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := newTestHasher(t)
	ctx := context.Background()

	for _, pw := range []string{"a", "correct horse battery staple", "pässwörd-ü", string(make([]byte, 200))} {
		rec, err := h.Hash(ctx, pw)
		require.NoError(t, err)

		ok, err := h.Verify(ctx, pw, rec)
		require.NoError(t, err)
		assert.True(t, ok, "password %q should verify", pw)

		ok, err = h.Verify(ctx, pw+"x", rec)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newTestHasher(t)
	ctx := context.Background()

	a, err := h.Hash(ctx, "same")
	require.NoError(t, err)
	b, err := h.Hash(ctx, "same")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Digest, b.Digest)
	assert.Len(t, a.Salt, 32)
	assert.Len(t, a.Digest, 128)
}

func TestParamsEnforceMinimums(t *testing.T) {
	h, err := NewHasher(Params{Iterations: 10, KeyLength: 16, SaltLength: 8}, nil)
	require.NoError(t, err)

	assert.Equal(t, MinKeyLength, h.Params().KeyLength)
	assert.Equal(t, MinSaltLength, h.Params().SaltLength)
	assert.Equal(t, 10, h.Params().Iterations)
}

func TestVerifyMalformedRecordFails(t *testing.T) {
	h := newTestHasher(t)
	ctx := context.Background()

	cases := []models.PasswordHash{
		{},
		{Salt: []byte("salt")},
		{Digest: []byte("digest"), Iterations: 10},
		{Salt: []byte("salt"), Digest: []byte("digest")},
	}
	for _, rec := range cases {
		ok, err := h.Verify(ctx, "", rec)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	require.NoError(t, h.VerifyDummy(ctx, "anything"))
}

func TestVerifyTimingIndependentOfCorrectness(t *testing.T) {
	if testing.Short() {
		t.Skip("timing sample skipped in short mode")
	}
	h := newTestHasher(t)
	ctx := context.Background()

	rec, err := h.Hash(ctx, "s3cret-passw0rd")
	require.NoError(t, err)

	const samples = 41
	var right, wrong []time.Duration
	for i := 0; i < samples; i++ {
		start := time.Now()
		_, _ = h.Verify(ctx, "s3cret-passw0rd", rec)
		right = append(right, time.Since(start))

		start = time.Now()
		_, _ = h.Verify(ctx, "s3cret-passw0rX", rec)
		wrong = append(wrong, time.Since(start))
	}

	mr, mw := median(right), median(wrong)
	diff := mr - mw
	if diff < 0 {
		diff = -diff
	}
	tolerance := mr / 2
	if tolerance < 2*time.Millisecond {
		tolerance = 2 * time.Millisecond
	}
	assert.LessOrEqual(t, diff, tolerance, "median correct=%s wrong=%s", mr, mw)
}

func median(d []time.Duration) time.Duration {
	s := append([]time.Duration(nil), d...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[len(s)/2]
}

func TestPoolRunsConcurrentJobs(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}

func TestPoolHonoursContextAndClose(t *testing.T) {
	pool := NewPool(1)

	block := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func() { <-block })
	}()
	// give the worker time to pick up the blocking job
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	pool.Close()
	assert.ErrorIs(t, pool.Do(context.Background(), func() {}), ErrPoolClosed)
}
