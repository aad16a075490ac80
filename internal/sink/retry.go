package sink

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RetrySink decorates another Sink with automatic retry: it attempts to
// write the event up to the configured number of attempts, waiting the
// configured delay between retries. This lets a CSV/MySQL/webhook sink
// tolerate a transient write failure without every sink implementation
// needing its own retry loop.
//
// attempts < 1 defaults to 1 (no retries); delayMs == 0 defaults to 1000ms.
// Write propagates the error from the last attempt if every retry fails.
type RetrySink struct {
	inner    Sink
	attempts int
	delay    time.Duration
}

// NewRetrySink wraps inner with retry behaviour. The result still
// satisfies Sink, so callers use it transparently in place of inner.
func NewRetrySink(inner Sink, attempts int, delayMs int) Sink {
	if inner == nil {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	if delayMs == 0 {
		delayMs = 1000
	}
	return &RetrySink{
		inner:    inner,
		attempts: attempts,
		delay:    time.Duration(delayMs) * time.Millisecond,
	}
}

// Write forwards to the wrapped sink, retrying on failure.
func (r *RetrySink) Write(evt Event) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.inner.Write(evt)
		if err == nil {
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"contract": evt.ContractName,
			"event":    evt.EventName,
			"tx_hash":  evt.TxHash,
			"attempt":  attempt,
			"attempts": r.attempts,
		}).Warnf("sink write failed: %v", err)

		if attempt < r.attempts {
			time.Sleep(r.delay)
		}
	}
	return err
}
