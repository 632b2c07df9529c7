package apperrors

import (
	"errors"
	"net"
)

// Standardized Venue Errors
var (
	ErrInsufficientMargin    = errors.New("insufficient margin")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrVenueMaintenance      = errors.New("venue maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrStaleMarketData       = errors.New("stale market data")
	ErrTimeout               = errors.New("request timeout")
)

// IsTransient reports whether an error is transport-class and worth
// retrying. Semantic rejections (bad symbol, insufficient margin, auth)
// are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrVenueMaintenance) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
