// Package memory is the in-memory stub Ingestor implementation used for
// tests and embedded tools, per SPEC_FULL.md §4.7.
package memory

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/tarsy/internal/streaming"
)

// Ingestor delivers messages pushed via Publish to the handler registered
// by Start, on an internal buffered channel.
type Ingestor struct {
	mu       sync.Mutex
	handler  streaming.Handler
	messages chan streaming.Message
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a memory Ingestor with the given channel capacity.
func New(bufferSize int) *Ingestor {
	return &Ingestor{
		messages: make(chan streaming.Message, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start registers handler and begins draining published messages.
func (i *Ingestor) Start(ctx context.Context, handler streaming.Handler) error {
	i.mu.Lock()
	i.handler = handler
	i.mu.Unlock()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-i.stopCh:
				return
			case msg := <-i.messages:
				i.mu.Lock()
				h := i.handler
				i.mu.Unlock()
				if h != nil {
					_ = h(ctx, msg)
				}
			}
		}
	}()
	return nil
}

// Stop signals the drain loop to exit and waits for it.
func (i *Ingestor) Stop(ctx context.Context) error {
	close(i.stopCh)
	i.wg.Wait()
	return nil
}

// Publish enqueues a message for delivery, blocking if the buffer is full.
func (i *Ingestor) Publish(msg streaming.Message) {
	i.messages <- msg
}
