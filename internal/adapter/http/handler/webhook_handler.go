package handler

import (
	"io"

	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives provider notifications. It must sit behind
// middleware.ProviderSignature.
type WebhookHandler struct {
	reconSvc ports.ReconciliationService
	log      zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconSvc ports.ReconciliationService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{reconSvc: reconSvc, log: log}
}

// Paystack handles POST /api/v1/webhooks/paystack.
// A verified event is always acknowledged with 200, even when applying it
// failed, so the provider does not retry against a stuck entry.
func (h *WebhookHandler) Paystack(c *gin.Context) {
	body, err := rawBody(c)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	event, err := domain.ParseProviderEvent(body)
	if err != nil {
		response.Error(c, apperror.Validation("Malformed webhook payload"))
		return
	}

	if err := h.reconSvc.HandleEvent(c.Request.Context(), event); err != nil {
		h.log.Error().Err(err).
			Str("event", string(event.Event)).
			Str("reference", event.Data.Reference).
			Msg("provider event not applied")
	}

	response.Acknowledge(c)
}

func rawBody(c *gin.Context) ([]byte, error) {
	if v, ok := c.Get(middleware.CtxRawBody); ok {
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	}
	return io.ReadAll(c.Request.Body)
}
