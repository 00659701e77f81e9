// Package bus provides the message bus client: one persistent broker
// connection carrying telemetry subscriptions and acknowledged publishes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNotConnected   = errors.New("bus not connected")
	ErrPublishTimeout = errors.New("timed out waiting for broker acknowledgment")
	ErrClosed         = errors.New("bus client closed")
)

// Message is an inbound message delivered to a subscription handler
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Handler processes inbound messages. Handlers run on the transport's
// delivery goroutines and must not block for long.
type Handler func(Message)

// Publisher publishes a payload and reports broker acceptance through an Ack
type Publisher interface {
	Publish(topic string, payload []byte) *Ack
}

// Client is a broker connection shared by publishers and subscribers
type Client interface {
	Publisher
	Connect(ctx context.Context) error
	Subscribe(topic string, h Handler) error
	IsConnected() bool
	Close() error
}

// Ack resolves once, when the broker accepts or rejects a publish. Not
// waiting on an Ack does not cancel the publish.
type Ack struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewAck returns an unresolved Ack
func NewAck() *Ack {
	return &Ack{done: make(chan struct{})}
}

// Resolved returns an Ack that is already resolved with err
func Resolved(err error) *Ack {
	a := NewAck()
	a.Resolve(err)
	return a
}

// Resolve settles the Ack. Only the first call has effect.
func (a *Ack) Resolve(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Done is closed when the Ack resolves
func (a *Ack) Done() <-chan struct{} {
	return a.done
}

// Err returns the publish outcome; nil until resolved
func (a *Ack) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait blocks until the Ack resolves or ctx is done
func (a *Ack) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver runs h and contains any panic so one bad message cannot stop
// the subscription loop
func deliver(logger *slog.Logger, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bus handler panicked", "topic", msg.Topic, "panic", fmt.Sprint(r))
		}
	}()
	h(msg)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
