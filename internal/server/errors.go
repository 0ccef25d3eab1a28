package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/authorization"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	plandomain "github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	processordomain "github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/session"
	subscriptiondomain "github.com/rubenoroz/closeframe-sub002/internal/subscription/domain"
	webhookdomain "github.com/rubenoroz/closeframe-sub002/internal/webhook/domain"
	"github.com/rubenoroz/closeframe-sub002/pkg/db/pagination"
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
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Balance   *int64            `json:"balance,omitempty"`
	Threshold *int64            `json:"threshold,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
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

		if wait, ok := retryAfter(lastErr.Err); ok {
			c.Header("Retry-After", strconv.Itoa(wait))
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

	var rejection *payoutdomain.RejectionError
	if errors.As(err, &rejection) {
		balance, threshold := rejection.Balance, rejection.Threshold
		return http.StatusUnprocessableEntity, errorPayload{
			Type:      "payout_rejected",
			Message:   rejection.Message,
			Code:      rejection.Code,
			Balance:   &balance,
			Threshold: &threshold,
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

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, session.ErrSessionNotFound):
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
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Code:    conflictCode(err),
		}
	case errors.Is(err, payoutdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many payout requests",
		}
	case isUnavailableError(err):
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

// classifyErrorForLog feeds error_type and error_code on the request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if errors.Is(err, webhookdomain.ErrInvalidSignature) {
		return "invalid_signature", webhookdomain.ErrInvalidSignature.Error()
	}
	_, payload := mapError(err)
	switch {
	case len(payload.Errors) > 0:
		return payload.Type, payload.Errors[0].Code
	case payload.Code != "":
		return payload.Type, payload.Code
	default:
		return payload.Type, payload.Type
	}
}

// retryAfter reports the whole seconds a rate-limited caller should wait.
func retryAfter(err error) (int, bool) {
	var rateErr *payoutdomain.RateLimitError
	if !errors.As(err, &rateErr) {
		return 0, false
	}
	wait := int(math.Ceil(rateErr.RetryAfter.Seconds()))
	if rateErr.RetryAfter < time.Second {
		wait = 1
	}
	return wait, true
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, capability.ErrUnknownCapability),
		errors.Is(err, plandomain.ErrInvalidCatalog),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	case isSubscriptionValidationError(err),
		isWebhookValidationError(err),
		isReferralValidationError(err),
		isAuditValidationError(err),
		errors.Is(err, payoutdomain.ErrInvalidReason):
		return true
	default:
		return false
	}
}

func isSubscriptionValidationError(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrInvalidPrice) ||
		errors.Is(err, subscriptiondomain.ErrPlanNotPurchasable)
}

func isWebhookValidationError(err error) bool {
	return errors.Is(err, webhookdomain.ErrInvalidSignature) ||
		errors.Is(err, webhookdomain.ErrInvalidPayload) ||
		errors.Is(err, webhookdomain.ErrInvalidEvent) ||
		errors.Is(err, webhookdomain.ErrMissingMetadata)
}

func isReferralValidationError(err error) bool {
	return errors.Is(err, referraldomain.ErrInvalidPayoutMethod) ||
		errors.Is(err, referraldomain.ErrInvalidDestination) ||
		errors.Is(err, referraldomain.ErrInvalidThreshold) ||
		errors.Is(err, referraldomain.ErrInvalidPaymentRef) ||
		errors.Is(err, referraldomain.ErrInvalidAmount)
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, referraldomain.ErrAssignmentNotFound),
		errors.Is(err, referraldomain.ErrTemplateNotFound),
		errors.Is(err, payoutdomain.ErrPayoutNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, payoutdomain.ErrPayoutInProgress),
		errors.Is(err, payoutdomain.ErrClaimConflict),
		errors.Is(err, payoutdomain.ErrInvalidTransition),
		errors.Is(err, subscriptiondomain.ErrNoSubscription):
		return true
	default:
		return false
	}
}

func conflictCode(err error) string {
	for _, known := range []error{
		payoutdomain.ErrPayoutInProgress,
		payoutdomain.ErrClaimConflict,
		payoutdomain.ErrInvalidTransition,
		subscriptiondomain.ErrNoSubscription,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ""
}

func isUnavailableError(err error) bool {
	switch {
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, subscriptiondomain.ErrProcessorUnavailable),
		errors.Is(err, processordomain.ErrUnavailable),
		errors.Is(err, processordomain.ErrNotConfigured),
		errors.Is(err, webhookdomain.ErrNotConfigured),
		errors.Is(err, payoutdomain.ErrStatementDisabled),
		errors.Is(err, session.ErrStoreDisabled):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, known := range []error{
		ErrInvalidRequest,
		capability.ErrUnknownCapability,
		plandomain.ErrInvalidCatalog,
		pagination.ErrInvalidPageToken,
		subscriptiondomain.ErrInvalidPrice,
		subscriptiondomain.ErrPlanNotPurchasable,
		webhookdomain.ErrInvalidSignature,
		webhookdomain.ErrInvalidPayload,
		webhookdomain.ErrInvalidEvent,
		webhookdomain.ErrMissingMetadata,
		referraldomain.ErrInvalidPayoutMethod,
		referraldomain.ErrInvalidDestination,
		referraldomain.ErrInvalidThreshold,
		referraldomain.ErrInvalidPaymentRef,
		referraldomain.ErrInvalidAmount,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
		auditdomain.ErrInvalidAction,
		payoutdomain.ErrInvalidReason,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "unknown_capability":
		return "key"
	case "missing_metadata":
		return "metadata"
	case "plan_not_purchasable":
		return "planId"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unknown_capability":
		return "unknown capability"
	case "invalid_signature":
		return "signature verification failed"
	case "missing_metadata":
		return "event metadata is incomplete"
	default:
		return "invalid value"
	}
}
