package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/backpressure"
)

// Normalizer is the Intake Agent's capability as seen by the ingestor:
// normalize a raw message into whatever downstream representation the
// caller wants (kept generic here to avoid an import cycle with
// internal/agent; the orchestrator wiring passes a closure over the real
// Intake Agent).
type Normalizer func(ctx context.Context, msg Message) (Message, error)

// WorkQueue is the internal bounded delivery queue used when no direct
// callback is configured.
type WorkQueue chan Message

// Service wires a backend Ingestor to backpressure pre-checks and optional
// Intake normalization, per SPEC_FULL.md §4.7.
type Service struct {
	backend     Ingestor
	controller  *backpressure.Controller
	normalize   Normalizer
	deliver     Handler
	queue       WorkQueue
	logger      *slog.Logger
}

// NewService constructs a Service. normalize may be nil (no normalization
// step); exactly one of deliver or a non-nil queue should be used for
// delivery.
func NewService(backend Ingestor, controller *backpressure.Controller, normalize Normalizer, deliver Handler, queue WorkQueue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, controller: controller, normalize: normalize, deliver: deliver, queue: queue, logger: logger}
}

// Start begins consumption, pausing (via a ticker, never a blocking sleep
// that would hold the scheduler) while the controller reports
// ShouldConsume() == false.
func (s *Service) Start(ctx context.Context) error {
	return s.backend.Start(ctx, s.handle)
}

// Stop stops the backend.
func (s *Service) Stop(ctx context.Context) error {
	return s.backend.Stop(ctx)
}

func (s *Service) handle(ctx context.Context, msg Message) error {
	if err := s.waitForCapacity(ctx); err != nil {
		return err
	}

	if !s.controller.CheckRateLimit(msg.TenantID, 1) {
		s.logger.Warn("dropping message: rate limited", "tenant_id", msg.TenantID)
		return nil
	}
	if msg.LowPriority && s.controller.ShouldDropLowPriority() {
		s.logger.Warn("dropping low-priority message: overloaded", "tenant_id", msg.TenantID)
		return nil
	}
	if delay := s.controller.AdaptiveDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	normalized := msg
	if s.normalize != nil {
		n, err := s.normalize(ctx, msg)
		if err != nil {
			s.logger.Warn("intake normalization failed, falling back to raw message", "error", err)
		} else {
			normalized = n
		}
	}

	return s.deliverMessage(ctx, normalized)
}

// waitForCapacity blocks (via ticker, not sleep) until ShouldConsume() is
// true or ctx is cancelled.
func (s *Service) waitForCapacity(ctx context.Context) error {
	if s.controller.ShouldConsume() {
		return nil
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.controller.ShouldConsume() {
				return nil
			}
		}
	}
}

func (s *Service) deliverMessage(ctx context.Context, msg Message) error {
	if s.deliver != nil {
		err := s.deliver(ctx, msg)
		return err
	}
	if s.queue != nil {
		select {
		case s.queue <- msg:
			s.controller.UpdateQueueDepth(int64(len(s.queue)))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
