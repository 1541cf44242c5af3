package auction

import (
	"errors"
	"fmt"
)

// ErrorKind groups domain errors by the reason an operation was refused.
type ErrorKind int

const (
	// KindUnknown is reported for errors that are not domain errors.
	KindUnknown ErrorKind = iota
	// KindValidation is a malformed or out-of-range argument.
	KindValidation
	// KindTiming is an operation issued in the wrong phase.
	KindTiming
	// KindCapacity covers bidder capacity and caller identity checks.
	KindCapacity
	// KindConflict is an operation that clashes with settlement state.
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTiming:
		return "timing"
	case KindCapacity:
		return "capacity"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a typed domain error. Every refused operation returns exactly one.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches errors by code so that wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first domain error in err's chain, or an
// empty string.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func errorf(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Validation errors.
var (
	ErrTitleTooLong          = newError(KindValidation, "title-too-long", "title exceeds length bound")
	ErrZeroIncrement         = newError(KindValidation, "zero-increment", "min bid increment must be positive")
	ErrZeroFloor             = newError(KindValidation, "zero-floor", "bid floor must be positive")
	ErrZeroItemQty           = newError(KindValidation, "zero-item-quantity", "item quantity must be positive")
	ErrInvalidTimeOrder      = newError(KindValidation, "invalid-time-ordering", "start time must precede end time")
	ErrInvalidStartTime      = newError(KindValidation, "invalid-start-time", "start time is in the future")
	ErrInvalidEndTime        = newError(KindValidation, "invalid-end-time", "end time already passed")
	ErrInvalidRevealDeadline = newError(KindValidation, "invalid-reveal-deadline", "reveal deadline must follow end time")
	ErrInvalidBidderCap      = newError(KindValidation, "invalid-bidder-cap", "bidder cap out of range")
	ErrInvalidOwner          = newError(KindValidation, "invalid-owner", "owner identity is empty")
	ErrInvalidItemRef        = newError(KindValidation, "invalid-item-ref", "item reference is invalid")
	ErrUnknownHash           = newError(KindValidation, "unknown-hash", "unknown commitment hash")
	ErrZeroCover             = newError(KindValidation, "zero-cover", "cover amount must be positive")
	ErrAmountOverflow        = newError(KindValidation, "amount-overflow", "bid total overflows")
	ErrUnderFloor            = newError(KindValidation, "under-floor-bid", "bid does not exceed the bid floor")
	ErrInsufficientIncrement = newError(KindValidation, "insufficient-increment", "bid does not exceed highest bid by the minimum increment")
	ErrHashMismatch          = newError(KindValidation, "hash-mismatch", "revealed bid does not match commitment")
	ErrUnderCovered          = newError(KindValidation, "under-covered-reveal", "revealed bid exceeds cover amount")
)

// Timing errors.
var (
	ErrBidBeforeStart      = newError(KindTiming, "bid-before-start", "auction has not started")
	ErrBidAfterClose       = newError(KindTiming, "bid-after-close", "bidding is closed")
	ErrAuctionNotOver      = newError(KindTiming, "auction-not-over", "auction has not ended")
	ErrAuctionOver         = newError(KindTiming, "auction-over", "auction already ended")
	ErrRevealPeriodNotOver = newError(KindTiming, "reveal-period-not-over", "reveal period has not ended")
	ErrRevealPeriodOver    = newError(KindTiming, "reveal-period-over", "reveal period already ended")
)

// Capacity and identity errors.
var (
	ErrBidderCapReached    = newError(KindCapacity, "bidder-cap-reached", "bid book is full")
	ErrOwnerCannotBid      = newError(KindCapacity, "owner-cannot-bid", "owner cannot bid on own auction")
	ErrDuplicateCommitment = newError(KindCapacity, "duplicate-commitment", "bidder already committed")
	ErrNotOwner            = newError(KindCapacity, "not-owner", "caller is not the auction owner")
	ErrNotHighestBidder    = newError(KindCapacity, "not-highest-bidder", "caller is not the highest bidder")
)

// State conflict errors.
var (
	ErrNotBidder           = newError(KindConflict, "not-a-bidder", "caller has no bid")
	ErrAlreadyReclaimed    = newError(KindConflict, "already-reclaimed", "bid already reclaimed")
	ErrAlreadyWithdrawn    = newError(KindConflict, "already-withdrawn", "already withdrawn")
	ErrAlreadyRevealed     = newError(KindConflict, "already-revealed", "bid already revealed")
	ErrNoWinningBid        = newError(KindConflict, "no-winning-bid", "auction has no winning bid")
	ErrWinnerCannotReclaim = newError(KindConflict, "winner-cannot-reclaim-bid", "highest bidder cannot reclaim pending settlement")
	ErrAuctionCancelled    = newError(KindConflict, "auction-cancelled", "auction is cancelled")
	ErrItemSold            = newError(KindConflict, "item-sold", "item was sold")
)

var errorsByCode = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrTitleTooLong, ErrZeroIncrement, ErrZeroFloor, ErrZeroItemQty, ErrInvalidTimeOrder,
		ErrInvalidStartTime, ErrInvalidEndTime, ErrInvalidRevealDeadline, ErrInvalidBidderCap,
		ErrInvalidOwner, ErrInvalidItemRef, ErrUnknownHash, ErrZeroCover, ErrAmountOverflow, ErrUnderFloor,
		ErrInsufficientIncrement, ErrHashMismatch, ErrUnderCovered,
		ErrBidBeforeStart, ErrBidAfterClose, ErrAuctionNotOver, ErrAuctionOver,
		ErrRevealPeriodNotOver, ErrRevealPeriodOver,
		ErrBidderCapReached, ErrOwnerCannotBid, ErrDuplicateCommitment, ErrNotOwner, ErrNotHighestBidder,
		ErrNotBidder, ErrAlreadyReclaimed, ErrAlreadyWithdrawn, ErrAlreadyRevealed, ErrNoWinningBid,
		ErrWinnerCannotReclaim, ErrAuctionCancelled, ErrItemSold,
	} {
		errorsByCode[e.Code] = e
	}
}

// ErrorByCode returns the sentinel registered for code. It's used by clients
// to turn a transported error code back into a comparable error.
func ErrorByCode(code string) (*Error, bool) {
	e, ok := errorsByCode[code]
	return e, ok
}
