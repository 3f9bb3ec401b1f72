// Package audit records security events: a structured log line, an async
// write to the event store, a push to live subscribers and, for severe
// events, an operator alert.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventSink persists security events.
type EventSink interface {
	CreateSecurityEvent(ev models.SecurityEvent) error
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(ev models.SecurityEvent)
}

type Recorder struct {
	logger       *zap.Logger
	sink         EventSink
	publisher    Publisher
	alerter      Alerter
	alertMin     models.Severity
	alertLimiter *rate.Limiter
	alertTimeout time.Duration
	nowFn        func() time.Time
	wg           sync.WaitGroup
}

type Option func(*Recorder)

func WithSink(sink EventSink) Option {
	return func(r *Recorder) {
		r.sink = sink
	}
}

func WithPublisher(p Publisher) Option {
	return func(r *Recorder) {
		r.publisher = p
	}
}

// WithAlerter sends events at or above minSeverity to alerter, at most
// perHour of them.
func WithAlerter(alerter Alerter, minSeverity models.Severity, perHour int) Option {
	return func(r *Recorder) {
		if perHour <= 0 {
			perHour = 30
		}
		r.alerter = alerter
		r.alertMin = minSeverity
		r.alertLimiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.nowFn = now
	}
}

func NewRecorder(logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		logger:       logger,
		alerter:      &NoopAlerter{},
		alertMin:     models.SeverityHigh,
		alertTimeout: 30 * time.Second,
		nowFn:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record builds, logs and dispatches one security event.
func (r *Recorder) Record(typ models.EventType, ip, username string, details map[string]any) models.SecurityEvent {
	ev := models.SecurityEvent{
		ID:       uuid.NewString(),
		Type:     typ,
		Severity: models.SeverityOf(typ),
		IP:       ip,
		Username: username,
		Details:  details,
		At:       r.nowFn().UTC(),
	}

	r.log(ev)

	if r.sink != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.sink.CreateSecurityEvent(ev); err != nil {
				r.logger.Error("Failed to persist security event",
					zap.String("event_id", ev.ID),
					zap.Error(err))
			}
		}()
	}

	if r.publisher != nil {
		r.publisher.Publish(ev)
	}

	if ev.Severity.AtLeast(r.alertMin) && r.alertLimiter != nil && r.alertLimiter.Allow() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.alertTimeout)
			defer cancel()
			if err := r.alerter.Alert(ctx, ev); err != nil {
				r.logger.Warn("Failed to send security alert",
					zap.String("event_id", ev.ID),
					zap.Error(err))
			}
		}()
	}

	return ev
}

func (r *Recorder) log(ev models.SecurityEvent) {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("severity", string(ev.Severity)),
		zap.String("ip", ev.IP),
		zap.String("username", ev.Username),
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}

	switch ev.Severity {
	case models.SeverityCritical:
		r.logger.Error("Security event", fields...)
	case models.SeverityHigh, models.SeverityMedium:
		r.logger.Warn("Security event", fields...)
	default:
		r.logger.Info("Security event", fields...)
	}
}

// Close waits for pending writes and alerts.
func (r *Recorder) Close() {
	r.wg.Wait()
}
