package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rebill/internal/gateway"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	sourcedomain "github.com/smallbiznis/rebill/internal/paymentsource/domain"
	plandomain "github.com/smallbiznis/rebill/internal/plan/domain"
	reconciledomain "github.com/smallbiznis/rebill/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/rebill/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if field, code, ok := validationDetail(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   field,
					Code:    code,
					Message: err.Error(),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, reconciledomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, reconciledomain.ErrDuplicateLink),
		errors.Is(err, sourcedomain.ErrSourceNotCancelled):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// validationDetail maps domain sentinels that describe a bad request onto the
// field and code surfaced in the validation payload.
func validationDetail(err error) (string, string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "request", "invalid_request", true
	case errors.Is(err, reconciledomain.ErrInvalidPayload):
		return "payload", "invalid_payload", true
	case errors.Is(err, reconciledomain.ErrInvalidEvent):
		return "event", "invalid_event", true
	case errors.Is(err, sourcedomain.ErrMissingCardToken):
		return "card_token", "missing_card_token", true
	case errors.Is(err, sourcedomain.ErrMissingCustomerMail):
		return "customer_email", "missing_customer_email", true
	case errors.Is(err, sourcedomain.ErrInvalidSubscriber),
		errors.Is(err, subscriptiondomain.ErrInvalidSubscriber):
		return "subscriber_id", "invalid_subscriber", true
	case errors.Is(err, sourcedomain.ErrTokenization):
		return "card_token", "tokenization_failed", true
	case errors.Is(err, sourcedomain.ErrNoPaymentMethod):
		return "payment_source", "no_payment_method", true
	case errors.Is(err, subscriptiondomain.ErrInvalidPlan):
		return "plan_code", "invalid_plan", true
	case errors.Is(err, subscriptiondomain.ErrInvalidPeriod):
		return "period_days", "invalid_period", true
	case errors.Is(err, ledgerdomain.ErrInvalidAttempt):
		return "attempt", "invalid_attempt", true
	default:
		return "", "", false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, sourcedomain.ErrSourceNotFound),
		errors.Is(err, ledgerdomain.ErrAttemptNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
