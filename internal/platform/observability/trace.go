package observability

import (
	"strings"

	"github.com/daigou-ops/backoffice/internal/platform/requestctx"
)

// ParseCloudTraceHeader parses an X-Cloud-Trace-Context header value of the
// form "TRACE_ID/SPAN_ID;o=1". Missing or malformed segments yield zero
// values rather than an error; a request without trace metadata is normal.
func ParseCloudTraceHeader(value, projectID string) (requestctx.TraceInfo, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return requestctx.TraceInfo{}, false
	}

	info := requestctx.TraceInfo{ProjectID: projectID}

	traceID := value
	rest := ""
	if idx := strings.Index(value, "/"); idx >= 0 {
		traceID = value[:idx]
		rest = value[idx+1:]
	}
	if traceID == "" {
		return requestctx.TraceInfo{}, false
	}
	info.TraceID = traceID

	if rest != "" {
		spanID := rest
		if idx := strings.Index(rest, ";"); idx >= 0 {
			spanID = rest[:idx]
			opts := rest[idx+1:]
			info.Sampled = strings.Contains(opts, "o=1")
		}
		info.SpanID = spanID
	}
	return info, true
}

// FormatTraceResource renders the trace in the
// projects/PROJECT_ID/traces/TRACE_ID form Cloud Logging correlates on.
func FormatTraceResource(info requestctx.TraceInfo) string {
	if info.TraceID == "" || info.ProjectID == "" {
		return ""
	}
	return "projects/" + info.ProjectID + "/traces/" + info.TraceID
}
