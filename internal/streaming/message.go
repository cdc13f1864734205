package streaming

import "time"

// ParseMessage builds a Message from a raw decoded JSON object, recognizing
// both the camelCase and snake_case field aliases spec.md §6 lists for wire
// messages: tenantId|tenant_id, sourceSystem|source_system,
// rawPayload|raw_payload, exceptionType|exception_type, severity,
// timestamp, normalizedContext|normalized_context, metadata. raw itself is
// also treated as the message's RawPayload when no explicit rawPayload
// field is present, since most ingestion sources send the exception fields
// flat rather than wrapped.
func ParseMessage(raw map[string]any) Message {
	msg := Message{
		TenantID:     firstString(raw, "tenantId", "tenant_id"),
		SourceSystem: firstString(raw, "sourceSystem", "source_system"),
	}

	if payload, ok := firstMap(raw, "rawPayload", "raw_payload"); ok {
		msg.RawPayload = payload
	} else {
		msg.RawPayload = raw
	}

	if v := firstString(raw, "exceptionType", "exception_type"); v != "" {
		msg.ExceptionType = &v
	}
	if v := firstString(raw, "severity"); v != "" {
		msg.Severity = &v
	}
	if t, ok := firstTime(raw, "timestamp"); ok {
		msg.Timestamp = &t
	}
	if ctx, ok := firstMap(raw, "normalizedContext", "normalized_context"); ok {
		msg.NormalizedContext = ctx
	}
	if meta, ok := firstMap(raw, "metadata"); ok {
		msg.Metadata = meta
	}

	return msg
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstMap(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if mm, ok := v.(map[string]any); ok {
				return mm, true
			}
		}
	}
	return nil, false
}

func firstTime(m map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			for _, layout := range []string{time.RFC3339, time.RFC3339Nano} {
				if parsed, err := time.Parse(layout, t); err == nil {
					return parsed.UTC(), true
				}
			}
		case time.Time:
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
