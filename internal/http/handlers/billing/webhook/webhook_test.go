package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
	"github.com/magabrotheeeer/video-subscription/internal/services/billing"
)

type WebhookServiceMock struct {
	mock.Mock
}

func (m *WebhookServiceMock) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (billing.WebhookResult, error) {
	args := m.Called(ctx, payload, signatureHeader)
	return args.Get(0).(billing.WebhookResult), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookHandler(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	tests := []struct {
		name       string
		result     billing.WebhookResult
		err        error
		wantStatus int
	}{
		{"applied", billing.WebhookResult{Status: billing.StatusApplied, EventID: "evt_1", Tier: "gold"}, nil, http.StatusOK},
		{"duplicate acknowledged", billing.WebhookResult{Status: billing.StatusDuplicate, EventID: "evt_1"}, nil, http.StatusOK},
		{"stale acknowledged", billing.WebhookResult{Status: billing.StatusStale, EventID: "evt_0"}, nil, http.StatusOK},
		{"bad signature", billing.WebhookResult{}, apperr.Wrap(apperr.InvalidSignature, "op", paymentprovider.ErrBadSignature), http.StatusUnauthorized},
		{"unknown price", billing.WebhookResult{}, apperr.New(apperr.InvalidTier, "op", "unknown price"), http.StatusBadRequest},
		{"queue down", billing.WebhookResult{}, apperr.Wrap(apperr.Unavailable, "op", nil), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(WebhookServiceMock)
			svc.On("HandleWebhook", mock.Anything, payload, "t=1,v1=abc").Return(tt.result, tt.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(payload))
			req.Header.Set(paymentprovider.SignatureHeader, "t=1,v1=abc")
			rec := httptest.NewRecorder()
			webhook.New(newNoopLogger(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.err == nil {
				var got map[string]any
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
				assert.Equal(t, tt.result.Status, got["data"].(map[string]any)["status"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	svc := new(WebhookServiceMock)
	body := bytes.Repeat([]byte("a"), webhook.MaxBodyBytes+1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	webhook.New(newNoopLogger(), svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	svc.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything, mock.Anything)
}
