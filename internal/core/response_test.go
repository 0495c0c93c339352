package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybrief/internal/types"
)

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(rec, req, http.StatusOK, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, rec.Body.String())
}

func TestError_AppErrorMapsStatusAndCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation maps to 400",
			err:        types.NewAppError(types.ErrCodeValidationInvalidJSON, "bad json", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_invalid_json",
		},
		{
			name:       "auth maps to 401",
			err:        types.NewAppError(types.ErrCodeAuthTokenInvalid, "nope", nil),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_token_invalid",
		},
		{
			name:       "not found maps to 404",
			err:        types.NewAppError(types.ErrCodeNotFoundLedgerEntry, "missing", nil),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found_ledger_entry",
		},
		{
			name:       "conflict maps to 409",
			err:        types.NewAppError(types.ErrCodeConflictTerminalEntry, "terminal", nil),
			wantStatus: http.StatusConflict,
			wantCode:   "conflict_entry_already_terminal",
		},
		{
			name:       "upstream maps to 502",
			err:        types.NewAppError(types.ErrCodeUpstreamEmail, "provider down", nil),
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_email_provider_unavailable",
		},
		{
			name:       "generic error maps to 500 without leaking",
			err:        errors.New("pg: connection refused to db.internal"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_unexpected_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req_123"))

			Error(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp APIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, "req_123", resp.Error.RequestID)
			assert.NotContains(t, rec.Body.String(), "db.internal", "internal details must not leak")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		DigestType string `json:"digest_type"`
	}

	decode := func(body string) error {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var p payload
		return DecodeJSON(rec, req, &p)
	}

	t.Run("valid body", func(t *testing.T) {
		assert.NoError(t, decode(`{"digest_type":"daily"}`))
	})

	t.Run("empty body", func(t *testing.T) {
		assertInvalidJSON(t, decode(``))
	})

	t.Run("malformed body", func(t *testing.T) {
		assertInvalidJSON(t, decode(`{`))
	})

	t.Run("unknown field", func(t *testing.T) {
		assertInvalidJSON(t, decode(`{"digest_type":"daily","bogus":1}`))
	})

	t.Run("type mismatch carries details", func(t *testing.T) {
		err := decode(`{"digest_type":42}`)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
		assert.Equal(t, "digest_type", appErr.Details["field"])
	})

	t.Run("multiple JSON values", func(t *testing.T) {
		assertInvalidJSON(t, decode(`{"digest_type":"daily"}{"digest_type":"daily"}`))
	})
}

func assertInvalidJSON(t *testing.T, err error) {
	t.Helper()
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
}
