package core

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"dailybrief/internal/types"
)

// trackingPixel is a 1x1 transparent GIF returned by the open-tracking
// endpoint. Email clients render it invisibly.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// runDigestRequest is the trigger endpoint's body. TriggeredAt is optional
// and defaults to the server clock.
type runDigestRequest struct {
	DigestType  string     `json:"digest_type"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	TraceID     string     `json:"trace_id,omitempty"`
}

// HandleRunDigest executes one digest run synchronously and returns the
// structured result. A run skipped because another invocation holds the
// lock still returns 200 with skipped=true; the trigger succeeded, the
// work is just already underway elsewhere.
//
// POST /v1/digests/run
func (s *Server) HandleRunDigest(w http.ResponseWriter, r *http.Request) {
	var req runDigestRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}

	digestType := types.DigestType(req.DigestType)
	if digestType != types.DigestDaily && digestType != types.DigestBreaking {
		Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidDigest,
			"digest_type must be 'daily' or 'breaking'",
			nil,
			map[string]any{"digest_type": req.DigestType},
		))
		return
	}

	triggeredAt := time.Now().UTC()
	if req.TriggeredAt != nil {
		triggeredAt = req.TriggeredAt.UTC()
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = types.GetRequestID(r.Context())
	}

	result, err := s.Runner.Run(r.Context(), types.RunRequest{
		DigestType:  digestType,
		TriggeredAt: triggeredAt,
		TraceID:     traceID,
	})
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, result)
}

// HandleTrackOpen records an open event and serves the tracking pixel.
// The pixel is returned even when recording fails: a broken image in a
// recipient's inbox is never an acceptable trade for telemetry.
//
// GET /v1/track/open/{ledgerID}
func (s *Server) HandleTrackOpen(w http.ResponseWriter, r *http.Request) {
	ledgerID := chi.URLParam(r, "ledgerID")

	if err := s.Ledger.MarkOpened(r.Context(), ledgerID, time.Now().UTC()); err != nil {
		s.Logger.WarnContext(r.Context(), "failed to record open event",
			"ledger_id", ledgerID,
			"error", err,
		)
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(trackingPixel)
}

// HandleTrackClick records a click event and redirects to the wrapped
// article URL. Like open tracking, a recording failure never blocks the
// redirect. A missing or non-HTTP target is a 400; the endpoint must not
// be an open redirector for arbitrary schemes.
//
// GET /v1/track/click/{ledgerID}?to=<url>
func (s *Server) HandleTrackClick(w http.ResponseWriter, r *http.Request) {
	ledgerID := chi.URLParam(r, "ledgerID")

	target := r.URL.Query().Get("to")
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"query parameter 'to' must be an absolute http(s) URL",
			err,
		))
		return
	}

	if err := s.Ledger.MarkClicked(r.Context(), ledgerID, time.Now().UTC()); err != nil {
		s.Logger.WarnContext(r.Context(), "failed to record click event",
			"ledger_id", ledgerID,
			"error", err,
		)
	}

	http.Redirect(w, r, parsed.String(), http.StatusFound)
}
