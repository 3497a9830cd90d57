package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1905060202/image-ai-processor/internal/provider"
	"github.com/1905060202/image-ai-processor/internal/service"
)

func testServer() *Server {
	return &Server{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "content policy",
			err:        &provider.Error{Kind: provider.KindContentPolicyViolation, Message: "rejected"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "content-policy-violation",
		},
		{
			name:       "auth failure",
			err:        &provider.Error{Kind: provider.KindUpstreamAuthFailure},
			wantStatus: http.StatusUnauthorized,
			wantError:  "upstream-auth-failure",
		},
		{
			name:       "config missing",
			err:        provider.ConfigMissing("no model"),
			wantStatus: http.StatusBadRequest,
			wantError:  "upstream-config-missing",
		},
		{
			name:       "client error passes upstream status through",
			err:        &provider.Error{Kind: provider.KindUpstreamClientError, Status: http.StatusRequestEntityTooLarge},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "upstream-client-error",
		},
		{
			name:       "unavailable",
			err:        &provider.Error{Kind: provider.KindUpstreamUnavailable},
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream-unavailable",
		},
		{
			name:       "unparseable",
			err:        provider.Unparseable("no image", ""),
			wantStatus: http.StatusBadGateway,
			wantError:  "unparseable-response",
		},
		{
			name:       "permission",
			err:        provider.PermissionDenied("insufficient-credits", 3, 10),
			wantStatus: http.StatusForbidden,
			wantError:  "insufficient-permission",
		},
		{
			name:       "prompt validation",
			err:        service.ErrPromptRequired,
			wantStatus: http.StatusBadRequest,
			wantError:  "bad-request",
		},
		{
			name:       "unclassified",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal-error",
		},
	}

	s := testServer()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.writeError(rec, tc.err)
			assert.Equal(t, tc.wantStatus, rec.Code)

			var body errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.wantError, body.Error)
		})
	}
}

func TestWriteErrorPermissionCarriesBalance(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.writeError(rec, provider.PermissionDenied("insufficient-credits", 3, 10))

	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.Credits)
	require.NotNil(t, body.Required)
	assert.Equal(t, 3, *body.Credits)
	assert.Equal(t, 10, *body.Required)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.writeError(rec, errors.New("dsn user:pass@tcp leaked"))

	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Empty(t, body.Message, "internal failures must not leak detail to clients")
}
