package mocks

import (
	"context"
	"fmt"
	"sync"

	"chat-sync/internal/transport"
)

// FakeConnection is a stateful in-memory transport used where tests need
// to drive deliveries and connection transitions end to end.
type FakeConnection struct {
	mu       sync.Mutex
	state    transport.State
	handlers map[string]transport.Handler
	nextID   int

	SubscribedTopics   []string
	UnsubscribedTopics []string
	// Ops logs "sub:" and "unsub:" entries in call order so tests can
	// assert teardown-before-acquire sequencing.
	Ops       []string
	Published map[string][][]byte

	notify chan transport.StateChange

	ConnectErr error
}

func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		state:     transport.StateDisconnected,
		handlers:  make(map[string]transport.Handler),
		Published: make(map[string][][]byte),
		notify:    make(chan transport.StateChange, 16),
	}
}

func (f *FakeConnection) Connect(ctx context.Context, credential string) error {
	f.mu.Lock()
	if f.state == transport.StateConnected || f.state == transport.StateConnecting {
		f.mu.Unlock()
		return nil
	}
	if f.ConnectErr != nil {
		err := f.ConnectErr
		f.mu.Unlock()
		f.notify <- transport.StateChange{State: transport.StateDisconnected, Cause: err}
		return err
	}
	f.state = transport.StateConnected
	f.mu.Unlock()

	f.notify <- transport.StateChange{State: transport.StateConnecting}
	f.notify <- transport.StateChange{State: transport.StateConnected}
	return nil
}

func (f *FakeConnection) Subscribe(topic string, h transport.Handler) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateConnected {
		return transport.Handle{}, transport.ErrNotConnected
	}
	f.nextID++
	f.handlers[topic] = h
	f.SubscribedTopics = append(f.SubscribedTopics, topic)
	f.Ops = append(f.Ops, "sub:"+topic)
	return transport.Handle{ID: fmt.Sprintf("sub-%d", f.nextID), Topic: topic}, nil
}

func (f *FakeConnection) Unsubscribe(h transport.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, h.Topic)
	f.UnsubscribedTopics = append(f.UnsubscribedTopics, h.Topic)
	f.Ops = append(f.Ops, "unsub:"+h.Topic)
}

func (f *FakeConnection) Publish(ctx context.Context, destination string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateConnected {
		return transport.ErrNotConnected
	}
	f.Published[destination] = append(f.Published[destination], payload)
	return nil
}

func (f *FakeConnection) Disconnect() error {
	f.mu.Lock()
	f.state = transport.StateDisconnected
	f.handlers = make(map[string]transport.Handler)
	f.mu.Unlock()
	f.notify <- transport.StateChange{State: transport.StateDisconnected}
	return nil
}

func (f *FakeConnection) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeConnection) Notify() <-chan transport.StateChange {
	return f.notify
}

// Deliver invokes the handler subscribed to topic, if any, and reports
// whether a delivery happened.
func (f *FakeConnection) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(payload)
	return true
}

// Drop simulates transport-level connection loss with the given cause.
func (f *FakeConnection) Drop(cause error) {
	f.mu.Lock()
	f.state = transport.StateDisconnected
	f.handlers = make(map[string]transport.Handler)
	f.mu.Unlock()
	f.notify <- transport.StateChange{State: transport.StateDisconnected, Cause: cause}
}

// Topics returns the currently subscribed topics.
func (f *FakeConnection) Topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.handlers))
	for topic := range f.handlers {
		out = append(out, topic)
	}
	return out
}

var _ transport.Connection = (*FakeConnection)(nil)
