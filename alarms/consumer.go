package alarms

import (
	"context"
	"sync"

	"github.com/msam-go/msam/types"
	"golang.org/x/sync/semaphore"
)

// Consume handles queue items until items is closed or ctx is cancelled, at
// most maxInFlight at a time. It waits for in-flight items before returning.
//
// Items are acked when the event was propagated, or when it can never
// succeed (malformed event, unknown alarm). Items are nacked when the alarm
// provider was unavailable, so the queue redelivers them after the
// visibility timeout.
func (p *Propagator) Consume(ctx context.Context, items <-chan *types.QueueItem, maxInFlight int64) {
	sem := semaphore.NewWeighted(max(maxInFlight, 1))
	wg := sync.WaitGroup{}

	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-items:
			if !ok {
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				item.Nack()
				return
			}

			wg.Go(func() {
				defer sem.Release(1)
				p.handleItem(ctx, item)
			})
		}
	}
}

func (p *Propagator) handleItem(ctx context.Context, item *types.QueueItem) {
	logger := p.logger.WithField("message_id", item.MessageID)

	_, err := p.HandleEvent(ctx, []byte(item.Body))

	switch {
	case err == nil:
		p.opts.recorder.EventHandled(EventPropagated)
		item.Ack()
	case types.IsMalformed(err), types.IsNotFound(err):
		logger.Warnf("Dropping alarm event: %v", err)
		p.opts.recorder.EventHandled(EventDropped)
		item.Ack()
	default:
		logger.Errorf("Failed to handle alarm event, leaving it for redelivery: %v", err)
		p.opts.recorder.EventHandled(EventRetried)
		item.Nack()
	}
}
