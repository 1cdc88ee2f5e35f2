package relay

import (
	"context"
	"sync"

	"github.com/HMasataka/partyline/pkg/domain"
)

type fakeClient struct {
	id      string
	sendErr error
	onSend  func()

	mu       sync.Mutex
	received [][]byte
	closes   int

	ctx    context.Context
	cancel context.CancelFunc
}

func newFakeClient(id string) *fakeClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeClient{id: id, ctx: ctx, cancel: cancel}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(_ context.Context, message []byte) error {
	if c.onSend != nil {
		c.onSend()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closes > 0 {
		return domain.ErrConnectionClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, append([]byte(nil), message...))
	return nil
}

func (c *fakeClient) Receive(domain.MessageHandler) error { return nil }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	c.cancel()
	return nil
}

func (c *fakeClient) Context() context.Context { return c.ctx }

func (c *fakeClient) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.received))
	for i, m := range c.received {
		out[i] = string(m)
	}
	return out
}

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
