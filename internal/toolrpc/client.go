// Package toolrpc is the Resolution Agent's tool-execution collaborator
// (SPEC_FULL.md §4.10.4): a gRPC client that invokes a single fixed
// unary method against a google.protobuf.Struct request/response, so the
// wire contract is exercised with real grpc and protobuf types without
// hand-authoring protoc-generated stubs (unsafe without the Go toolchain
// available to regenerate them). Grounded on pkg/agent/llm_grpc.go's
// insecure-transport client-construction idiom.
package toolrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/codeready-toolchain/tarsy/internal/agent"
)

// executeMethod is the fixed fully-qualified gRPC method invoked for every
// tool execution call.
const executeMethod = "/tarsy.toolrpc.v1.ToolService/Execute"

// Client implements agent.ToolExecutor by calling a sidecar tool-execution
// service over gRPC. Uses insecure (plaintext) transport, matching the
// teacher's LLM sidecar client — this service is expected to run
// colocated, not across a network boundary.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials addr. Dialing is lazy/non-blocking, matching grpc.NewClient's
// semantics; connection errors surface on the first Execute call.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("toolrpc: failed to create client for %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Execute sends action and params to the remote tool-execution service and
// decodes its structured response, implementing agent.ToolExecutor.
func (c *Client) Execute(ctx context.Context, action string, params map[string]any) (agent.ToolResult, error) {
	paramsStruct, err := structpb.NewStruct(params)
	if err != nil {
		return agent.ToolResult{}, fmt.Errorf("toolrpc: encoding params: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{
		"action": action,
		"params": paramsStruct.AsMap(),
	})
	if err != nil {
		return agent.ToolResult{}, fmt.Errorf("toolrpc: encoding request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, executeMethod, req, resp); err != nil {
		return agent.ToolResult{}, fmt.Errorf("toolrpc: Execute(%s) failed: %w", action, err)
	}

	return toolResultFromStruct(resp), nil
}

func toolResultFromStruct(resp *structpb.Struct) agent.ToolResult {
	fields := resp.AsMap()
	result := agent.ToolResult{}
	if success, ok := fields["success"].(bool); ok {
		result.Success = success
	}
	if errMsg, ok := fields["error"].(string); ok {
		result.Error = errMsg
	}
	if output, ok := fields["output"].(map[string]any); ok {
		result.Output = output
	}
	return result
}
