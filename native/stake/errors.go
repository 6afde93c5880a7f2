package stake

import "errors"

var (
	// ErrInvalidAmount reports a zero or negative stake or withdrawal amount.
	ErrInvalidAmount = errors.New("stake engine: amount must be positive")
	// ErrInsufficientStakedBalance reports a withdrawal larger than the stake.
	ErrInsufficientStakedBalance = errors.New("stake engine: insufficient staked balance")
	// ErrStillLocked reports a withdrawal before the lock window elapsed.
	ErrStillLocked = errors.New("stake engine: stake still locked")
	// ErrLockPeriodIncreaseRejected reports an attempt to lengthen the lock period.
	ErrLockPeriodIncreaseRejected = errors.New("stake engine: lock period can only decrease")
	// ErrUnauthorized reports an admin operation from a non-admin caller.
	ErrUnauthorized = errors.New("stake engine: caller is not the admin")
	// ErrGatewayTransferFailed wraps failures reported by the token gateway.
	ErrGatewayTransferFailed = errors.New("stake engine: gateway transfer failed")
	// ErrInsufficientEngineReserve reports that custody cannot cover a claim.
	ErrInsufficientEngineReserve = errors.New("stake engine: insufficient reward reserve")

	// ErrRewardAssetNotSet reports a claim before any reward asset was configured.
	ErrRewardAssetNotSet = errors.New("stake engine: reward asset not configured")
	// ErrInvalidAsset reports an empty asset identifier.
	ErrInvalidAsset = errors.New("stake engine: asset identifier required")
	// ErrInvalidFactor reports a negative reward factor.
	ErrInvalidFactor = errors.New("stake engine: reward factor must not be negative")
	// ErrInvalidScale reports a reward factor scale below one.
	ErrInvalidScale = errors.New("stake engine: reward factor scale must be positive")
	// ErrInvalidAdmin reports the zero address offered as admin.
	ErrInvalidAdmin = errors.New("stake engine: admin address required")
	// ErrReentrantCall reports a mutation attempted while another mutation is
	// waiting on the token gateway.
	ErrReentrantCall = errors.New("stake engine: re-entrant call rejected")
	// ErrNotInitialised reports an operation before genesis was committed.
	ErrNotInitialised = errors.New("stake engine: not initialised")
	// ErrAlreadyInitialised reports a second genesis.
	ErrAlreadyInitialised = errors.New("stake engine: already initialised")
	// ErrInsolvent reports custody holding less than the staked liabilities.
	ErrInsolvent = errors.New("stake engine: staked liabilities exceed custody balance")
	// ErrAccountingMismatch reports a recorded total that disagrees with the
	// positions it sums.
	ErrAccountingMismatch = errors.New("stake engine: total staked out of sync with positions")

	errNilState   = errors.New("stake engine: state not configured")
	errNilGateway = errors.New("stake engine: token gateway not configured")
)
