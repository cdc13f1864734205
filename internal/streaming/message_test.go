package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageCamelCase(t *testing.T) {
	exceptionType := "OrderPaymentFailed"
	raw := map[string]any{
		"tenantId":     "acme",
		"sourceSystem": "billing-service",
		"rawPayload":   map[string]any{"orderId": "o-1"},
		"exceptionType": exceptionType,
		"severity":      "HIGH",
		"timestamp":     "2026-07-30T12:00:00Z",
		"normalizedContext": map[string]any{"region": "us-east-1"},
		"metadata":          map[string]any{"traceId": "t-1"},
	}

	msg := ParseMessage(raw)

	assert.Equal(t, "acme", msg.TenantID)
	assert.Equal(t, "billing-service", msg.SourceSystem)
	require.NotNil(t, msg.ExceptionType)
	assert.Equal(t, exceptionType, *msg.ExceptionType)
	require.NotNil(t, msg.Severity)
	assert.Equal(t, "HIGH", *msg.Severity)
	require.NotNil(t, msg.Timestamp)
	assert.True(t, msg.Timestamp.Equal(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, map[string]any{"orderId": "o-1"}, msg.RawPayload)
	assert.Equal(t, map[string]any{"region": "us-east-1"}, msg.NormalizedContext)
	assert.Equal(t, map[string]any{"traceId": "t-1"}, msg.Metadata)
}

func TestParseMessageSnakeCase(t *testing.T) {
	raw := map[string]any{
		"tenant_id":      "acme",
		"source_system":  "billing-service",
		"exception_type": "OrderPaymentFailed",
	}

	msg := ParseMessage(raw)

	assert.Equal(t, "acme", msg.TenantID)
	assert.Equal(t, "billing-service", msg.SourceSystem)
	require.NotNil(t, msg.ExceptionType)
	assert.Equal(t, "OrderPaymentFailed", *msg.ExceptionType)
}

func TestParseMessageFallsBackToRawPayload(t *testing.T) {
	raw := map[string]any{
		"tenant_id": "acme",
		"orderId":   "o-1",
	}

	msg := ParseMessage(raw)

	assert.Equal(t, raw, msg.RawPayload)
}

func TestParseMessageMissingOptionalFields(t *testing.T) {
	msg := ParseMessage(map[string]any{"tenant_id": "acme"})

	assert.Nil(t, msg.ExceptionType)
	assert.Nil(t, msg.Severity)
	assert.Nil(t, msg.Timestamp)
	assert.Nil(t, msg.NormalizedContext)
	assert.Nil(t, msg.Metadata)
}
