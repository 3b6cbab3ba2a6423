package htlc

import "errors"

var (
	ErrNotFound            = errors.New("htlc: escrow not found")
	ErrDuplicate           = errors.New("htlc: escrow already exists")
	ErrInvalidAmount       = errors.New("htlc: amount must be positive")
	ErrInsufficientDeposit = errors.New("htlc: security deposit below minimum")
	ErrInsufficientFunding = errors.New("htlc: token deposit below order value")
	ErrOrderExpired        = errors.New("htlc: order expired")
	ErrInvalidWindow       = errors.New("htlc: finality window must close before timelock")
	ErrNotResolver         = errors.New("htlc: caller is not the resolver")
	ErrNotMaker            = errors.New("htlc: caller is not the maker")
	ErrInvalidSecret       = errors.New("htlc: secret does not match hashlock")
	ErrFinalityLockActive  = errors.New("htlc: finality window still active")
	ErrTimelocked          = errors.New("htlc: timelock elapsed, claim window closed")
	ErrTimelockNotExpired  = errors.New("htlc: timelock not expired")
	ErrInvalidSide         = errors.New("htlc: operation not valid for this escrow side")
	ErrCreationNotAllowed  = errors.New("htlc: caller not allowed to create escrows")
)
