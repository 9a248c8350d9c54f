package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"orderhub/internal/metrics"
	"orderhub/internal/model"
)

// Retrying re-publishes failed events with exponential backoff, giving up
// after MaxAttempts. Publish blocks for the whole sequence.
type Retrying struct {
	next        EventSink
	MaxAttempts int
	log         logrus.FieldLogger
	sleep       func(context.Context, time.Duration) error
}

func NewRetrying(next EventSink, maxAttempts int, log logrus.FieldLogger) *Retrying {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{next: next, MaxAttempts: maxAttempts, log: log, sleep: sleepCtx}
}

func (r *Retrying) Publish(ctx context.Context, evt model.ChangeEvent) error {
	var err error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			if serr := r.sleep(ctx, nextBackoff(attempt-1)); serr != nil {
				return serr
			}
		}
		if err = r.next.Publish(ctx, evt); err == nil {
			metrics.SinkPublishes.WithLabelValues("ok").Inc()
			return nil
		}
		r.log.WithFields(logrus.Fields{"event_id": evt.ID, "order_id": evt.OrderID, "attempt": attempt + 1}).
			WithError(err).Warn("sink publish failed")
	}
	metrics.SinkPublishes.WithLabelValues("failed").Inc()
	return err
}

func (r *Retrying) Close() error { return r.next.Close() }

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Minute {
		base = time.Minute
	}
	return base
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
