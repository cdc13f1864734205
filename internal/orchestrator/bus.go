package orchestrator

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// StageEvent is one stage_completed notification published after a stage
// finishes, per SPEC_FULL.md §4.11's incremental-streaming contract.
type StageEvent struct {
	TenantID    string
	ExceptionID string
	Stage       string
	Decision    *domain.AgentDecision
	Timestamp   time.Time
}

const subscriberQueueCapacity = 64

type subscriber struct {
	ch chan StageEvent
}

// Bus is an internal pub/sub fan-out keyed by (tenant_id, exception_id) and
// by (tenant_id, "*"). Each subscriber gets a bounded queue; when full, the
// oldest queued event is dropped to make room for the newest, so a slow
// subscriber never blocks publication.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

func exceptionKey(tenantID, exceptionID string) string { return tenantID + "/" + exceptionID }
func wildcardKey(tenantID string) string                { return tenantID + "/*" }

// Subscribe registers a new bounded-queue subscriber for key (either an
// exceptionKey or a wildcardKey) and returns a channel to read from plus an
// unsubscribe function.
func (b *Bus) Subscribe(key string) (<-chan StageEvent, func()) {
	sub := &subscriber{ch: make(chan StageEvent, subscriberQueueCapacity)}
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[key]
		for i, s := range list {
			if s == sub {
				b.subs[key] = append(list[:i], list[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// SubscribeException subscribes to stage_completed events for one
// (tenant_id, exception_id).
func (b *Bus) SubscribeException(tenantID, exceptionID string) (<-chan StageEvent, func()) {
	return b.Subscribe(exceptionKey(tenantID, exceptionID))
}

// SubscribeTenant subscribes to every stage_completed event for a tenant.
func (b *Bus) SubscribeTenant(tenantID string) (<-chan StageEvent, func()) {
	return b.Subscribe(wildcardKey(tenantID))
}

// Publish delivers evt to every subscriber of both its exception key and
// its tenant wildcard key, in per-key publication order.
func (b *Bus) Publish(evt StageEvent) {
	b.mu.RLock()
	targets := append([]*subscriber{}, b.subs[exceptionKey(evt.TenantID, evt.ExceptionID)]...)
	targets = append(targets, b.subs[wildcardKey(evt.TenantID)]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		deliverOrDropOldest(sub.ch, evt)
	}
}

// deliverOrDropOldest sends evt on ch, dropping the oldest queued event to
// make room if ch is full rather than blocking the publisher.
func deliverOrDropOldest(ch chan StageEvent, evt StageEvent) {
	select {
	case ch <- evt:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- evt:
	default:
	}
}
