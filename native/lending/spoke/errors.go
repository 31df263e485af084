package spoke

import "errors"

var (
	ErrReserveNotListed           = errors.New("spoke: reserve not listed")
	ErrReserveAlreadyListed       = errors.New("spoke: reserve already listed for asset")
	ErrReserveNotActive           = errors.New("spoke: reserve not active")
	ErrReservePaused              = errors.New("spoke: reserve paused")
	ErrReserveFrozen              = errors.New("spoke: reserve frozen")
	ErrReserveNotBorrowable       = errors.New("spoke: reserve not borrowable")
	ErrReserveNotCollateral       = errors.New("spoke: reserve cannot be used as collateral")
	ErrInvalidReserveConfig       = errors.New("spoke: invalid reserve config")
	ErrDynamicConfigNotFound      = errors.New("spoke: dynamic config key not found")
	ErrDynamicConfigKeysExhausted = errors.New("spoke: dynamic config keys exhausted")
	ErrHealthFactorBelowThreshold = errors.New("spoke: health factor below threshold")
)
