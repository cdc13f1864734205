package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/explain"
	"github.com/codeready-toolchain/tarsy/internal/streaming"
)

// ingestHandler handles POST /exceptions/{tenant_id}.
func (s *Server) ingestHandler(c *echo.Context) error {
	tenantID := c.Param("tenant_id")
	if tenantID == "" {
		return writeErr(c, apperr.New(apperr.ErrValidationFailed, "tenant_id is required"))
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, apperr.New(apperr.ErrValidationFailed, "malformed request body: %v", err))
	}

	raws := req.Exceptions
	if req.Exception != nil {
		raws = append([]map[string]any{req.Exception}, raws...)
	}
	if len(raws) == 0 {
		return c.JSON(http.StatusOK, &IngestResponse{ExceptionIDs: []string{}, Count: 0})
	}

	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		rec := recordFromRaw(tenantID, raw)
		runID := uuid.NewString()
		if _, err := s.Orchestrator.Run(c.Request().Context(), rec, s.DefaultDomain, runID); err != nil {
			// Per spec §7: one exception's failure never aborts the batch;
			// its id is still reported, with FAILED status already
			// persisted by the orchestrator.
			ids = append(ids, rec.ExceptionID)
			continue
		}
		ids = append(ids, rec.ExceptionID)
	}

	return c.JSON(http.StatusAccepted, &IngestResponse{ExceptionIDs: ids, Count: len(ids)})
}

// recordFromRaw builds an ExceptionRecord from a raw wire-shaped map, lifting
// the recognized fields spec.md §6 names before handing the rest to Intake
// as RawPayload for further extraction/canonicalization.
func recordFromRaw(tenantID string, raw map[string]any) *domain.ExceptionRecord {
	msg := streaming.ParseMessage(raw)
	rec := &domain.ExceptionRecord{
		TenantID:          tenantID,
		SourceSystem:      msg.SourceSystem,
		ExceptionType:     msg.ExceptionType,
		RawPayload:        msg.RawPayload,
		NormalizedContext: msg.NormalizedContext,
	}
	if msg.Severity != nil {
		rec.Severity = domain.Severity(*msg.Severity)
	}
	if msg.Timestamp != nil {
		rec.Timestamp = *msg.Timestamp
	}
	return rec
}

// getExceptionHandler handles GET /exceptions/{tenant_id}/{exception_id}.
func (s *Server) getExceptionHandler(c *echo.Context) error {
	tenantID, exceptionID := c.Param("tenant_id"), c.Param("exception_id")
	rec, result, err := s.Exceptions.Get(c.Request().Context(), tenantID, exceptionID)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, exceptionResponseFrom(rec, result))
}

// tenantMetricsHandler handles GET /metrics/{tenant_id}.
func (s *Server) tenantMetricsHandler(c *echo.Context) error {
	tenantID := c.Param("tenant_id")
	return c.JSON(http.StatusOK, s.Metrics.GetMetrics(tenantID))
}

// allMetricsHandler handles GET /metrics.
func (s *Server) allMetricsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.Metrics.GetAllMetrics())
}

// explanationHandler handles GET /explanations/{exception_id}?tenant_id&format.
func (s *Server) explanationHandler(c *echo.Context) error {
	exceptionID := c.Param("exception_id")
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return writeErr(c, apperr.New(apperr.ErrValidationFailed, "tenant_id query parameter is required"))
	}
	format := explain.Format(c.QueryParam("format"))

	result, err := s.Explanations.Explain(c.Request().Context(), tenantID, exceptionID, format)
	if err != nil {
		return writeErr(c, err)
	}
	if format == explain.FormatText {
		return c.String(http.StatusOK, result.(string))
	}
	return c.JSON(http.StatusOK, result)
}

// timelineHandler handles GET /explanations/{exception_id}/timeline.
func (s *Server) timelineHandler(c *echo.Context) error {
	exceptionID := c.Param("exception_id")
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return writeErr(c, apperr.New(apperr.ErrValidationFailed, "tenant_id query parameter is required"))
	}

	result, err := s.Explanations.Explain(c.Request().Context(), tenantID, exceptionID, explain.FormatJSON)
	if err != nil {
		return writeErr(c, err)
	}
	exp := result.(*explain.Explanation)
	return c.JSON(http.StatusOK, exp.Timeline)
}

// evidenceHandler handles GET /explanations/{exception_id}/evidence.
func (s *Server) evidenceHandler(c *echo.Context) error {
	exceptionID := c.Param("exception_id")
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return writeErr(c, apperr.New(apperr.ErrValidationFailed, "tenant_id query parameter is required"))
	}

	result, err := s.Explanations.Explain(c.Request().Context(), tenantID, exceptionID, explain.FormatJSON)
	if err != nil {
		return writeErr(c, err)
	}
	exp := result.(*explain.Explanation)
	return c.JSON(http.StatusOK, map[string]any{
		"evidenceItems": exp.EvidenceItems,
		"evidenceLinks": exp.EvidenceLinks,
	})
}

// auditExceptionHandler handles GET /api/audit/exceptions/{tenant_id}/{exception_id}.
func (s *Server) auditExceptionHandler(c *echo.Context) error {
	q := audit.Query{
		TenantID:    c.Param("tenant_id"),
		ExceptionID: c.Param("exception_id"),
	}
	applyAuditFilters(c, &q)

	entries, err := s.AuditReader.Find(q)
	if err != nil {
		return writeErr(c, apperr.New(apperr.ErrInternal, "reading audit trail: %v", err))
	}
	return c.JSON(http.StatusOK, entries)
}

// auditTenantHandler handles GET /api/audit/tenants/{tenant_id}.
func (s *Server) auditTenantHandler(c *echo.Context) error {
	q := audit.Query{TenantID: c.Param("tenant_id")}
	applyAuditFilters(c, &q)

	entries, err := s.AuditReader.Find(q)
	if err != nil {
		return writeErr(c, apperr.New(apperr.ErrInternal, "reading audit trail: %v", err))
	}
	return c.JSON(http.StatusOK, entries)
}

// applyAuditFilters reads event_type, correlation_id, start_timestamp,
// end_timestamp and paging query params into q, per spec.md §6.
func applyAuditFilters(c *echo.Context, q *audit.Query) {
	if v := c.QueryParam("event_type"); v != "" {
		q.EventType = audit.EventType(v)
	}
	q.CorrelationID = c.QueryParam("correlation_id")

	if v := c.QueryParam("start_timestamp"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.Start = &t
		}
	}
	if v := c.QueryParam("end_timestamp"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.End = &t
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
}
