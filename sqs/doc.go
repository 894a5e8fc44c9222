// Package sqs carries CloudWatch alarm state-change events between
// EventBridge and the alarm propagator over an AWS SQS queue.
//
// # Client
//
// [Client] reads events from a standard or FIFO queue and delivers them as
// [types.QueueItem] values. While an event is in flight a background
// goroutine keeps extending its visibility timeout. Callers finish every item
// with Ack (delete) or Nack (leave for redelivery):
//
//	client, err := sqs.New(&awsCfg, "msam-alarm-events", logger,
//	    sqs.WithSqsVisibilityTimeout(60),
//	).Init(ctx)
//
//	items := make(chan *types.QueueItem)
//	go client.Receive(ctx, items)
//	propagator.Consume(ctx, items, 10)
//
// Reading pauses while the in-flight limits are reached, so a slow
// propagator applies back-pressure to the queue instead of buffering events
// in memory.
//
// # Publishing
//
// [Client.Publish] re-injects synthetic alarm events into the queue, for
// example to resynchronise subscriptions after an outage. On FIFO queues
// events are grouped by alarm key.
//
// # Visibility extension
//
// Extension is best-effort. A message whose extension fails, or which stays
// in flight longer than [WithMaxMessageExtension], is released and will be
// redelivered. Propagation only performs conditional writes of the current
// provider state, so repeated delivery is harmless.
package sqs
