package toolrpc

import (
	"context"

	"github.com/codeready-toolchain/tarsy/internal/agent"
)

// StubExecutor is an in-memory agent.ToolExecutor for tests and
// environments without a tool-execution sidecar: every action succeeds
// with an empty output unless overridden via Responses.
type StubExecutor struct {
	Responses map[string]agent.ToolResult
}

func (s *StubExecutor) Execute(ctx context.Context, action string, params map[string]any) (agent.ToolResult, error) {
	if s.Responses != nil {
		if r, ok := s.Responses[action]; ok {
			return r, nil
		}
	}
	return agent.ToolResult{Success: true, Output: map[string]any{}}, nil
}
