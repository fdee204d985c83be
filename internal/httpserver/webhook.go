package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/webhook"
)

const maxWebhookBody = 1 << 20

func webhookHandler(h Webhooks, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "webhook_http").Logger()
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			writeError(c, domain.Invalid("body", "unreadable or larger than 1MiB"))
			return
		}
		headers := make(map[string]string, len(c.Request.Header))
		for name := range c.Request.Header {
			headers[name] = c.Request.Header.Get(name)
		}
		raw := domain.RawWebhook{Headers: headers, Body: body}

		tenantID, err := h.ResolveTenant(raw, c.Request.URL.Query())
		if err != nil {
			writeError(c, err)
			return
		}
		raw.TenantID = tenantID

		res, err := h.Handle(c.Request.Context(), raw)
		switch {
		case errors.Is(err, webhook.ErrInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"status": "in_flight"})
			return
		case err != nil:
			log.Error().Err(err).Str("tenant", tenantID).Msg("webhook failed")
			writeError(c, err)
			return
		}

		out := gin.H{"status": string(res.Outcome)}
		if res.Event != nil {
			out["eventId"] = res.Event.ID
			out["type"] = res.Event.Type
		}
		c.JSON(http.StatusOK, out)
	}
}
