package api

import (
	"net/http"
)

// handleDiagnostics returns a redacted snapshot of engine state for support
// bundles: configuration (credentials masked), registry statistics, and the
// most recent poll cycle.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	diag := map[string]any{
		"version": s.version,
		"devices": s.registry.GetStats(),
	}

	if cycle, ok := s.scheduler.LastCycle(); ok {
		diag["last_cycle"] = cycle
	}

	if s.full != nil {
		diag["config"] = map[string]any{
			"cloud": map[string]any{
				"base_url":         s.full.Cloud.BaseURL,
				"per_call_timeout": s.full.Cloud.PerCallTimeout,
				"rate_limit":       s.full.Cloud.RateLimit,
			},
			"credentials": map[string]any{
				// Password and token never appear in diagnostics.
				"username": redact(s.full.Credentials.Username),
			},
			"poll":  s.full.Poll,
			"retry": s.full.Retry,
		}
	}

	writeJSON(w, http.StatusOK, diag)
}

// redactVisible is how many leading characters survive redaction.
const redactVisible = 2

// redact masks all but the first characters of a sensitive string.
func redact(v string) string {
	if len(v) <= redactVisible {
		return "***"
	}
	return v[:redactVisible] + "***"
}
