package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rwa-manager/internal/ledger"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// failLedger translates a ledger sentinel error into an HTTP result. Every
// named failure keeps its text so automated relayers can branch on it.
func failLedger(c *gin.Context, err error) {
	fail(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrNotAllowed), errors.Is(err, ledger.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrZeroAmount),
		errors.Is(err, ledger.ErrDepositTooSmall),
		errors.Is(err, ledger.ErrRedemptionTooSmall),
		errors.Is(err, ledger.ErrArrayLengthMismatch),
		errors.Is(err, ledger.ErrDuplicateIDInBatch),
		errors.Is(err, ledger.ErrZeroEpochInterval),
		errors.Is(err, ledger.ErrEpochIntervalTooShort),
		errors.Is(err, ledger.ErrNegativeEpochMaximum):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrDuplicateClaimID),
		errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrRecordAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrDepositAmountExceedEpochMaximum),
		errors.Is(err, ledger.ErrRedemptionAmountExceedEpochMaximum):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrClaimNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotYetClaimable),
		errors.Is(err, ledger.ErrPriceNotSet),
		errors.Is(err, ledger.ErrClaimableTimestampNotSet):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
