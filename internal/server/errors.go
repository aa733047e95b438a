package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
	memberdomain "github.com/makerhaus/storman/internal/member/domain"
	stripesyncdomain "github.com/makerhaus/storman/internal/stripesync/domain"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	violationdomain "github.com/makerhaus/storman/internal/violation/domain"
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
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case stripesyncdomain.IsConfigurationError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "configuration_error",
			Message: "billing configuration incomplete",
		}
	case stripesyncdomain.IsReconciliationError(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "reconciliation_error",
			Message: "billing provider call failed",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
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

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, unitdomain.ErrInvalidUnit),
		errors.Is(err, unitdomain.ErrInvalidUnitType),
		errors.Is(err, unitdomain.ErrInvalidCode),
		errors.Is(err, unitdomain.ErrInvalidStatus),
		errors.Is(err, memberdomain.ErrInvalidMember),
		errors.Is(err, memberdomain.ErrInvalidEmail),
		errors.Is(err, assignmentdomain.ErrInvalidAssignment),
		errors.Is(err, violationdomain.ErrInvalidViolation),
		errors.Is(err, violationdomain.ErrInvalidRate):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, unitdomain.ErrCodeExists),
		errors.Is(err, memberdomain.ErrEmailExists),
		errors.Is(err, assignmentdomain.ErrUnitNotAvailable),
		errors.Is(err, assignmentdomain.ErrAssignmentNotActive),
		errors.Is(err, assignmentdomain.ErrNotUnderReview),
		errors.Is(err, violationdomain.ErrViolationActive),
		errors.Is(err, violationdomain.ErrAlreadyResolved):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, unitdomain.ErrUnitNotFound),
		errors.Is(err, unitdomain.ErrUnitTypeNotFound),
		errors.Is(err, memberdomain.ErrMemberNotFound),
		errors.Is(err, assignmentdomain.ErrAssignmentNotFound),
		errors.Is(err, violationdomain.ErrViolationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if code == "invalid_request" {
		return "request"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog buckets an error for the request log fields.
func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case asValidationErrors(err) != nil, isValidationError(err):
		return "validation_error", validationErrorCode(err)
	case isConflictError(err):
		return "conflict", err.Error()
	case isNotFoundError(err):
		return "not_found", err.Error()
	case stripesyncdomain.IsConfigurationError(err):
		return "configuration_error", "billing_configuration"
	case stripesyncdomain.IsReconciliationError(err):
		return "reconciliation_error", "stripe"
	default:
		return "internal_error", ""
	}
}
