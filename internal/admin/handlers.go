package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/audit"
	"github.com/derong97/gcp-iot-tutorial/internal/identity"
)

// Responses of POST /, read by the form script.
const (
	msgSent    = "Sent command"
	msgNotSent = "Could not send command"
)

const healthTimeout = 2 * time.Second

// handleIndex checks the caller's identity assertion and serves the form.
// A missing or invalid assertion is logged but does not block the page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if id := s.identify(r); !id.IsZero() {
		s.logger.Info("admin console opened", "email", id.Email, "request_id", r.Context().Value(ctxKeyRequestID))
	}

	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	http.ServeFileFS(w, r, views(), "index.html")
}

// handleSendCommand relays the form field "payload" to the device.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, msgNotSent)
		return
	}
	payload := r.PostForm.Get("payload")
	actor := s.identify(r).Email

	if err := s.relay.Send(r.Context(), []byte(payload), actor); err != nil {
		writeText(w, http.StatusOK, msgNotSent)
		return
	}
	writeText(w, http.StatusOK, msgSent)
}

// identify verifies the assertion header when a verifier is configured.
func (s *Server) identify(r *http.Request) identity.Identity {
	if s.verifier == nil {
		return identity.Identity{}
	}

	id, err := s.verifier.Verify(r.Context(), r.Header.Get(identity.HeaderAssertion))
	if err != nil {
		s.logger.Warn("identity assertion not verified",
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		return identity.Identity{}
	}
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"device":  s.relay.DevicePath(),
	}

	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}

	writeJSON(w, status, body)
}

// handleListCommands returns paginated command audit records.
//
// Query parameters:
//   - device: filter by device path
//   - success: "true" or "false"
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{DevicePath: q.Get("device")}

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "success must be true or false")
			return
		}
		filter.Success = &b
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("listing command audit", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
