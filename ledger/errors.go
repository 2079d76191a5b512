package ledger

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverSell          = errors.New("sell quantity exceeds long position")
	ErrOverCover         = errors.New("cover quantity exceeds short position")
	ErrSizeExceeded      = errors.New("quantity exceeds maximum allowed size")
	ErrWrongSide         = errors.New("action not allowed on current position side")
	ErrInvariant         = errors.New("ledger invariant violated")
)

// IsRejection reports whether err is a business rule rejection of a trade
// rather than a programming or persistence failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOverSell) ||
		errors.Is(err, ErrOverCover) ||
		errors.Is(err, ErrSizeExceeded) ||
		errors.Is(err, ErrWrongSide) ||
		errors.Is(err, ErrInvalidParameter)
}
