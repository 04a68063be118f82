package crowdfund

import "errors"

// The engine reports every precondition failure through one of these sentinel
// errors so callers can map a failure to a stable identifier instead of a
// generic message. Wrapped context may be attached with fmt.Errorf("%w: ...").
var (
	// ErrConfigInitialized is returned when InitiateContract is called after
	// the system config singleton already exists.
	ErrConfigInitialized = errors.New("crowdfund: system config already initialized")
	// ErrConfigNotInitialized is returned by operations that require the
	// system config singleton before it has been created.
	ErrConfigNotInitialized = errors.New("crowdfund: system config not initialized")
	// ErrUnauthorized is returned when the caller is not the required
	// principal: the campaign creator for release, the config authority for
	// admin operations.
	ErrUnauthorized = errors.New("crowdfund: unauthorized caller")
	// ErrBadMilestone marks malformed milestone input at campaign creation,
	// or a donation attempted after the final milestone was released.
	ErrBadMilestone = errors.New("crowdfund: bad milestone definition")
	// ErrInvalidMilestone is returned when the release index is out of
	// bounds for the campaign.
	ErrInvalidMilestone = errors.New("crowdfund: invalid milestone index")
	// ErrAlreadyReleased is returned when releasing a milestone twice.
	ErrAlreadyReleased = errors.New("crowdfund: milestone already released")
	// ErrMilestoneNotReady is returned when a milestone is released before
	// all of its predecessors.
	ErrMilestoneNotReady = errors.New("crowdfund: previous milestone not released")
	// ErrTargetNotReached is returned when release is attempted before the
	// funding goal has been met.
	ErrTargetNotReached = errors.New("crowdfund: funding target not reached")
	// ErrDisputeWindowOpen is returned when release is attempted before the
	// dispute window has elapsed.
	ErrDisputeWindowOpen = errors.New("crowdfund: dispute window still open")
	// ErrCampaignLocked is returned when the admin circuit breaker blocks a
	// release.
	ErrCampaignLocked = errors.New("crowdfund: campaign locked")
	// ErrNotFailed is returned when refund is attempted on a campaign that is
	// still active or reached its target.
	ErrNotFailed = errors.New("crowdfund: campaign not yet ended or already successful")
	// ErrInDispute is returned, with refund dispute gating enabled, when a
	// refund is claimed before the post-deadline dispute period elapses.
	ErrInDispute = errors.New("crowdfund: campaign still in dispute period")
	// ErrNothingToRefund is returned when the donor has no receipt, a zero
	// balance, or was already refunded.
	ErrNothingToRefund = errors.New("crowdfund: nothing to refund")
	// ErrCampaignEnded is returned when a donation arrives after the campaign
	// window closed.
	ErrCampaignEnded = errors.New("crowdfund: campaign window closed")
	// ErrCampaignNotFound is returned when the referenced campaign does not
	// exist.
	ErrCampaignNotFound = errors.New("crowdfund: campaign not found")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("crowdfund: amount must be positive")
	// ErrInvalidDuration is returned when a campaign is created with a
	// non-positive duration.
	ErrInvalidDuration = errors.New("crowdfund: duration must be positive")
	// ErrDisputeSecondsOutOfRange is returned by UpdateDisputeSeconds when
	// the new window falls outside the permitted bounds.
	ErrDisputeSecondsOutOfRange = errors.New("crowdfund: dispute seconds out of range")
	// ErrInsufficientBalance is returned when a funds transfer cannot be
	// covered by the source account.
	ErrInsufficientBalance = errors.New("crowdfund: insufficient balance")
)
