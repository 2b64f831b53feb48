package marketplace

import "errors"

// Engine errors. All are terminal for the attempt that receives them;
// only store.ErrTxRetriesExhausted (surfaced by the retry driver) is
// safe for callers to retry automatically.
var (
	// Not-found family.
	ErrListingNotFound = errors.New("listing not found")
	ErrCreditNotFound  = errors.New("carbon credit not found")
	ErrSiteNotFound    = errors.New("site not found")

	// Conflict family: the caller lost a race to another committed writer.
	ErrListingClosed     = errors.New("listing is no longer active")
	ErrAuctionClosed     = errors.New("auction has ended")
	ErrBidTooLow         = errors.New("bid must be higher than current price")
	ErrAlreadyRetired    = errors.New("carbon credit is already retired")
	ErrCreditUnavailable = errors.New("credit is not available for purchase")
	ErrNotVerifiable     = errors.New("credit is not pending verification")

	// Rights and shape errors.
	ErrNotOwner       = errors.New("caller does not own this entity")
	ErrNotAuction     = errors.New("listing is not an auction")
	ErrAuctionListing = errors.New("auction listings settle by bid, not direct purchase")
	ErrInvalidInput   = errors.New("invalid input")

	// ErrAuctionNotEnded is returned by SettleAuction when invoked
	// before the auction end time; the settlement worker snoozes on it.
	ErrAuctionNotEnded = errors.New("auction has not ended yet")
)

// IsConflict reports whether err means the operation lost a race or hit
// a terminal entity state, as opposed to bad input or missing rights.
func IsConflict(err error) bool {
	return errors.Is(err, ErrListingClosed) ||
		errors.Is(err, ErrAuctionClosed) ||
		errors.Is(err, ErrBidTooLow) ||
		errors.Is(err, ErrAlreadyRetired) ||
		errors.Is(err, ErrCreditUnavailable) ||
		errors.Is(err, ErrNotVerifiable)
}

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrListingNotFound) ||
		errors.Is(err, ErrCreditNotFound) ||
		errors.Is(err, ErrSiteNotFound)
}
