package sqs

import (
	"context"
	"sync"
	"time"
)

// extendableMessage is a received message whose visibility timeout is kept
// alive by the extender until it is acked, nacked or given up on.
type extendableMessage struct {
	mu         sync.Mutex
	id         string
	groupID    string
	size       int64
	receivedAt time.Time
	extendedAt time.Time
	visibility time.Duration
	now        func() time.Time
	ack        func()
	extend     func(ctx context.Context) error
}

func newExtendableMessage(id, groupID string, visibility time.Duration, size int, now func() time.Time) *extendableMessage {
	t := now()

	return &extendableMessage{
		id:         id,
		groupID:    groupID,
		size:       int64(size),
		receivedAt: t,
		extendedAt: t,
		visibility: visibility,
		now:        now,
	}
}

func (m *extendableMessage) MessageID() string { return m.id }

func (m *extendableMessage) GroupID() string { return m.groupID }

func (m *extendableMessage) Size() int64 { return m.size }

// Age is the time since the message was first received.
func (m *extendableMessage) Age() time.Duration {
	return m.now().Sub(m.receivedAt)
}

func (m *extendableMessage) bind(ack func(), extend func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ack = ack
	m.extend = extend
}

// Ack deletes the message from the queue. Only the first Ack or Nack has any
// effect.
func (m *extendableMessage) Ack() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ack == nil {
		return
	}

	m.ack()
	m.release()
}

// Nack stops extending the message. SQS has no negative acknowledgement; the
// message becomes visible again when its current timeout runs out.
func (m *extendableMessage) Nack() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.release()
}

func (m *extendableMessage) release() {
	m.ack = nil
	m.extend = nil
}

// Settled reports whether Ack or Nack has been called.
func (m *extendableMessage) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ack == nil
}

// Due reports whether more than half of the visibility timeout has passed
// since the last successful extension.
func (m *extendableMessage) Due() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.extend != nil && m.now().Sub(m.extendedAt) > m.visibility/2
}

// ExtendVisibility pushes the visibility timeout out by another full period.
// It is a no-op once the message is settled.
func (m *extendableMessage) ExtendVisibility(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.extend == nil {
		return nil
	}

	if err := m.extend(ctx); err != nil {
		return err
	}

	m.extendedAt = m.now()

	return nil
}
