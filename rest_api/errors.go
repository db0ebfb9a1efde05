package rest_api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
)

// errorBody is the JSON error shape every handler returns.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func codeName(code sr.ErrorCode) string {
	switch code {
	case sr.InvalidTransition:
		return "INVALID_TRANSITION"
	case sr.InvariantViolation:
		return "INVARIANT_VIOLATION"
	case sr.BudgetExceeded:
		return "BUDGET_EXCEEDED"
	case sr.MissingReference:
		return "MISSING_REFERENCE"
	case sr.IntegrityCondition:
		return "INTEGRITY_CONDITION"
	case sr.ConcurrencyConflict:
		return "CONCURRENCY_CONFLICT"
	case sr.StreamNotFound:
		return "NOT_FOUND"
	case sr.EvidenceNotFound:
		return "EVIDENCE_NOT_FOUND"
	case sr.HashMismatch:
		return "HASH_MISMATCH"
	default:
		return "INTERNAL"
	}
}

func statusFor(code sr.ErrorCode) int {
	switch code {
	case sr.StreamNotFound, sr.EvidenceNotFound:
		return http.StatusNotFound
	case sr.ConcurrencyConflict, sr.InvariantViolation:
		return http.StatusConflict
	case sr.InvalidTransition:
		return http.StatusUnprocessableEntity
	case sr.BudgetExceeded, sr.IntegrityCondition:
		return http.StatusPreconditionFailed
	case sr.MissingReference, sr.HashMismatch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to its HTTP status and JSON body.
func writeError(c *gin.Context, err error) {
	var domainErr sr.Error
	if errors.As(err, &domainErr) {
		body := errorBody{Error: err.Error(), Code: codeName(domainErr.Code)}
		if domainErr.UserData != nil {
			body.Details = domainErr.UserData
		}
		c.AbortWithStatusJSON(statusFor(domainErr.Code), body)
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError,
		errorBody{Error: err.Error(), Code: "INTERNAL"})
}

func writeBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest,
		errorBody{Error: err.Error(), Code: "BAD_REQUEST"})
}

func writeForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden,
		errorBody{Error: message, Code: "FORBIDDEN"})
}

func writePreconditionFailed(c *gin.Context, message string, details any) {
	c.AbortWithStatusJSON(http.StatusPreconditionFailed,
		errorBody{Error: message, Code: "PRECONDITION_FAILED", Details: details})
}
