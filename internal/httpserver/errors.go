package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"commerce-provider/internal/domain"
)

type errorBody struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Details  []string `json:"details,omitempty"`
	Recovery string   `json:"recovery,omitempty"`
}

// statusFor maps domain errors onto HTTP statuses. Anything unrecognised is
// a 500 so failures are never masked as success.
func statusFor(err error) (int, errorBody) {
	var (
		verr  *domain.ValidationError
		cerr  *domain.ConflictError
		perr  *domain.ProviderPermanentError
		terr  *domain.ProviderTransientError
		wverr *domain.WebhookVerificationError
		cfg   *domain.ConfigurationError
		ierr  *domain.MigrationIntegrityError
		pd    *domain.PaymentDeclinedError
	)
	switch {
	case errors.As(err, &wverr):
		return http.StatusUnauthorized, errorBody{Code: "webhook_verification_failed", Message: wverr.Reason}
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Code: "validation_error", Message: verr.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, errorBody{Code: "already_exists", Message: err.Error()}
	case errors.As(err, &cerr):
		return http.StatusConflict, errorBody{Code: "conflict", Message: cerr.Error()}
	case errors.As(err, &ierr):
		return http.StatusConflict, errorBody{Code: "migration_integrity", Message: ierr.Error(), Details: ierr.Mismatch}
	case errors.As(err, &pd):
		return http.StatusPaymentRequired, errorBody{Code: "payment_declined", Message: pd.Message, Recovery: string(domain.RecoveryFor(err))}
	case errors.As(err, &perr):
		code := perr.Code
		if code == "" {
			code = "provider_rejected"
		}
		return http.StatusUnprocessableEntity, errorBody{Code: code, Message: perr.Message}
	case errors.As(err, &terr):
		return http.StatusBadGateway, errorBody{Code: "provider_unavailable", Message: "backend temporarily unavailable"}
	case errors.As(err, &cfg):
		return http.StatusServiceUnavailable, errorBody{Code: "configuration_error", Message: cfg.Reason}
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented, errorBody{Code: "unsupported", Message: err.Error()}
	}
	return http.StatusInternalServerError, errorBody{Code: "internal_error", Message: "internal error"}
}

func writeError(c *gin.Context, err error) {
	status, body := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
