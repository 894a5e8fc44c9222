package sqs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msam-go/msam/types"
	"golang.org/x/sync/semaphore"
)

// extendConcurrency bounds parallel ChangeMessageVisibility calls.
const extendConcurrency = 3

// messageExtender keeps in-flight alarm events invisible to other consumers
// while the propagator works on them.
//
// Extension is best-effort. A message whose extension fails, or which has been
// in flight longer than the configured maximum, is dropped from tracking and
// will be redelivered by SQS. Propagation is idempotent, so a duplicate
// delivery only repeats the same conditional writes.
type messageExtender struct {
	tracked map[string]*extendableMessage
	count   atomic.Int64
	bytes   atomic.Int64
	opts    *Options
	logger  types.Logger
}

func newMessageExtender(opts *Options, logger types.Logger) *messageExtender {
	return &messageExtender{
		tracked: make(map[string]*extendableMessage),
		opts:    opts,
		logger:  logger,
	}
}

// AllowMoreMessages reports whether both in-flight limits have headroom.
func (m *messageExtender) AllowMoreMessages() bool {
	return m.count.Load() < int64(m.opts.maxOutstandingMessages) &&
		m.bytes.Load() < int64(m.opts.maxOutstandingBytes)
}

// InFlight returns the number and total size of tracked messages.
func (m *messageExtender) InFlight() (count, bytes int64) {
	return m.count.Load(), m.bytes.Load()
}

func (m *messageExtender) run(ctx context.Context, sourceCh <-chan *extendableMessage) {
	m.logger.Info("Visibility extender started")
	defer m.logger.Info("Visibility extender stopped")

	ticker := time.NewTicker(m.checkInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		case msg, ok := <-sourceCh:
			if !ok {
				return
			}

			m.track(msg)
		}
	}
}

func (m *messageExtender) checkInterval() time.Duration {
	return max(m.opts.visibilityTimeout()/3, 5*time.Second)
}

// sweep drops settled and over-age messages, then extends the ones that are
// due.
func (m *messageExtender) sweep(ctx context.Context) {
	if len(m.tracked) == 0 {
		return
	}

	due := []*extendableMessage{}

	for _, msg := range m.tracked {
		logger := m.logger.WithField("message_id", msg.MessageID())

		switch {
		case msg.Settled():
			m.untrack(msg)
		case msg.Age()+m.opts.visibilityTimeout() >= m.opts.maxMessageExtension:
			logger.WithField("alarm_key", msg.GroupID()).Error("Alarm event exceeded the maximum visibility extension, releasing it")
			m.untrack(msg)
		case msg.Due():
			due = append(due, msg)
		}
	}

	if len(due) == 0 {
		return
	}

	started := time.Now()

	for _, msg := range m.extend(ctx, due) {
		m.untrack(msg)
	}

	m.logger.WithField("extended", len(due)).WithField("elapsed", time.Since(started)).Debug("Visibility extension pass completed")
}

// extend extends every message in due, a few at a time, and returns the ones
// that failed. Nothing is returned once ctx is done.
func (m *messageExtender) extend(ctx context.Context, due []*extendableMessage) []*extendableMessage {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []*extendableMessage
	)

	sem := semaphore.NewWeighted(extendConcurrency)

	for _, msg := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Go(func() {
			defer sem.Release(1)

			if err := msg.ExtendVisibility(ctx); err != nil && ctx.Err() == nil {
				m.logger.WithField("message_id", msg.MessageID()).Errorf("Failed to extend visibility, releasing message: %v", err)

				mu.Lock()
				failed = append(failed, msg)
				mu.Unlock()
			}
		})
	}

	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}

	return failed
}

func (m *messageExtender) track(msg *extendableMessage) {
	if _, ok := m.tracked[msg.MessageID()]; ok {
		return
	}

	m.tracked[msg.MessageID()] = msg
	m.count.Add(1)
	m.bytes.Add(msg.Size())
}

func (m *messageExtender) untrack(msg *extendableMessage) {
	if _, ok := m.tracked[msg.MessageID()]; !ok {
		return
	}

	delete(m.tracked, msg.MessageID())
	m.count.Add(-1)
	m.bytes.Add(-msg.Size())
}
