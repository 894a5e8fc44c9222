// Package alarms propagates CloudWatch alarm state changes to the resources
// subscribed to them, and manages those subscriptions.
//
// # Propagation
//
// [Propagator.OnAlarmStateChanged] resolves the subscribers of an alarm and
// conditionally updates each subscription row in parallel. The condition
// guarantees that a row unsubscribed in the meantime is never recreated; such
// rows are skipped. Re-applying the same state and timestamp is harmless.
//
// Notifications arrive from a queue as EventBridge events, optionally wrapped
// in an SNS envelope. [Propagator.HandleEvent] treats the notification only
// as a trigger and reads the authoritative state from a
// [types.StateProvider]:
//
//	p, err := alarms.New(index, provider, logger)
//	go queue.Receive(ctx, items)
//	p.Consume(ctx, items, 10)
//
// # Subscriptions
//
// [Manager] validates and applies subscribe and unsubscribe requests for one
// or more subscribers at a time.
package alarms
