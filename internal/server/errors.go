package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/campaigncredit/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	"github.com/smallbiznis/campaigncredit/internal/authorization"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	transactiondomain "github.com/smallbiznis/campaigncredit/internal/transaction/domain"
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
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
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

// classifyErrorForLog feeds the request logger the same taxonomy clients see.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Message
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

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var insufficient *ledgerdomain.InsufficientCreditsError
	var gatewayErr *paymentdomain.GatewayError

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: insufficient.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case isInvalidStateError(err):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Message: err.Error(),
		}
	case errors.Is(err, orderdomain.ErrReferenceMismatch):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "reference_mismatch",
			Message: "payment does not reference this order",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrGatewayNotConfigured),
		errors.Is(err, messagingdomain.ErrTransportMissing),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.As(err, &gatewayErr):
		if gatewayErr.Kind == paymentdomain.GatewayTimeout {
			return http.StatusGatewayTimeout, errorPayload{
				Type:    "gateway_timeout",
				Message: "payment provider timed out",
			}
		}
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: "payment provider request failed",
		}
	case errors.Is(err, messagingdomain.ErrDeliveryFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "delivery_failed",
			Message: "message delivery failed",
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

var validationErrors = []error{
	ErrInvalidRequest,
	ledgerdomain.ErrInvalidTenant,
	ledgerdomain.ErrInvalidQuantity,
	ledgerdomain.ErrQuantityTooLarge,
	ledgerdomain.ErrInvalidUnitPrice,
	ledgerdomain.ErrInvalidApprover,
	ledgerdomain.ErrInvalidConsumption,
	pricingdomain.ErrInvalidChannel,
	pricingdomain.ErrInvalidUnitPrice,
	pricingdomain.ErrAmountOverflow,
	transactiondomain.ErrInvalidRequester,
	transactiondomain.ErrInvalidDecider,
	transactiondomain.ErrInvalidPageToken,
	orderdomain.ErrInvalidQuantity,
	orderdomain.ErrQuantityTooLarge,
	orderdomain.ErrInvalidPaymentID,
	orderdomain.ErrInvalidPageToken,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrMissingPaymentID,
	messagingdomain.ErrNoRecipients,
	messagingdomain.ErrTooManyRecipients,
	messagingdomain.ErrEmptyBody,
	messagingdomain.ErrEmptySubject,
	apikeydomain.ErrInvalidTenant,
	apikeydomain.ErrInvalidName,
	apikeydomain.ErrInvalidRole,
	apikeydomain.ErrInvalidKeyID,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionNotFound),
		errors.Is(err, transactiondomain.ErrPurchaseNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, transactiondomain.ErrPurchaseNotFound):
		return "purchase request not found"
	case errors.Is(err, ledgerdomain.ErrTransactionNotFound):
		return "transaction not found"
	default:
		return "not found"
	}
}

func isInvalidStateError(err error) bool {
	switch {
	case errors.Is(err, transactiondomain.ErrNotPending),
		errors.Is(err, ledgerdomain.ErrAlreadyRefunded),
		errors.Is(err, ledgerdomain.ErrDuplicateOrder),
		errors.Is(err, orderdomain.ErrOrderNotCompleted):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

// validationErrorField derives the field from codes shaped invalid_<field>[_detail].
func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	field := strings.TrimPrefix(code, "invalid_")
	if field == code {
		return ""
	}
	for _, suffix := range []string{"_too_large", "_too_many", "_overflow"} {
		field = strings.TrimSuffix(field, suffix)
	}
	return field
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_quantity_too_large":
		return "quantity exceeds the per-request limit"
	case "invalid_amount_overflow":
		return "total amount is out of range"
	case "invalid_recipients_too_many":
		return "too many recipients"
	default:
		return "invalid value"
	}
}
