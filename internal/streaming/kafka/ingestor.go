// Package kafka declares the Kafka-style consumer Ingestor per
// SPEC_FULL.md §4.7 ("connection and commit details out of scope"). It is
// structurally present so the streaming service can be wired against a
// real backend without further interface changes, but is not a working
// Kafka client.
package kafka

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/streaming"
)

// Config holds the declared Kafka connection settings from SPEC_FULL.md §6.
type Config struct {
	BootstrapServers string
	Topic            string
	GroupID          string
}

// Ingestor is the declared-interface-only Kafka backend.
type Ingestor struct {
	cfg Config
}

// New validates cfg and returns an Ingestor. It never connects; Start
// always fails until a transport is wired in, since broker connection and
// offset-commit semantics are an external collaborator per spec.
func New(cfg Config) (*Ingestor, error) {
	if cfg.BootstrapServers == "" || cfg.Topic == "" {
		return nil, apperr.New(apperr.ErrConfigUnavailable, "kafka ingestor requires bootstrap servers and topic")
	}
	return &Ingestor{cfg: cfg}, nil
}

func (k *Ingestor) Start(ctx context.Context, handler streaming.Handler) error {
	return apperr.New(apperr.ErrConfigUnavailable, "kafka ingestor transport not implemented: %s/%s", k.cfg.BootstrapServers, k.cfg.Topic)
}

func (k *Ingestor) Stop(ctx context.Context) error { return nil }

var _ fmt.Stringer = (*Ingestor)(nil)

func (k *Ingestor) String() string {
	return fmt.Sprintf("kafka(%s/%s/%s)", k.cfg.BootstrapServers, k.cfg.Topic, k.cfg.GroupID)
}
