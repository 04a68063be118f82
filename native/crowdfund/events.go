package crowdfund

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"crowdvault/core/types"
)

const (
	EventTypeConfigInitialized = "crowdfund.config.initialized"
	EventTypeConfigUpdated     = "crowdfund.config.updated"
	EventTypeCampaignCreated   = "crowdfund.campaign.created"
	EventTypeCampaignLocked    = "crowdfund.campaign.locked"
	EventTypeDonationReceived  = "crowdfund.donation.received"
	EventTypeMilestoneReleased = "crowdfund.milestone.released"
	EventTypeRefundIssued      = "crowdfund.refund.issued"
)

// NewConfigInitializedEvent returns the canonical payload emitted when the
// system config singleton is created.
func NewConfigInitializedEvent(cfg *SystemConfig) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["authority"] = hex.EncodeToString(cfg.Authority[:])
		attrs["disputeSeconds"] = strconv.FormatInt(cfg.DisputeSeconds, 10)
	}
	return &types.Event{Type: EventTypeConfigInitialized, Attributes: attrs}
}

// NewConfigUpdatedEvent returns the canonical payload emitted when the
// authority or dispute window changes.
func NewConfigUpdatedEvent(cfg *SystemConfig) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["authority"] = hex.EncodeToString(cfg.Authority[:])
		attrs["disputeSeconds"] = strconv.FormatInt(cfg.DisputeSeconds, 10)
	}
	return &types.Event{Type: EventTypeConfigUpdated, Attributes: attrs}
}

// NewCampaignCreatedEvent returns the canonical payload for a newly created
// campaign.
func NewCampaignCreatedEvent(c *Campaign) *types.Event {
	attrs := make(map[string]string)
	if sanitized, err := SanitizeCampaign(c); err == nil {
		attrs["campaign"] = hex.EncodeToString(sanitized.ID[:])
		attrs["creator"] = hex.EncodeToString(sanitized.Creator[:])
		attrs["vault"] = hex.EncodeToString(sanitized.Vault[:])
		attrs["target"] = sanitized.TargetLamports.String()
		attrs["startTs"] = strconv.FormatInt(sanitized.StartTs, 10)
		attrs["endTs"] = strconv.FormatInt(sanitized.EndTs, 10)
		attrs["milestones"] = strconv.FormatUint(uint64(sanitized.MilestoneCount), 10)
	}
	return &types.Event{Type: EventTypeCampaignCreated, Attributes: attrs}
}

// NewCampaignLockedEvent returns the canonical payload emitted when the admin
// circuit breaker flips.
func NewCampaignLockedEvent(id [32]byte, locked bool) *types.Event {
	return &types.Event{Type: EventTypeCampaignLocked, Attributes: map[string]string{
		"campaign": hex.EncodeToString(id[:]),
		"locked":   strconv.FormatBool(locked),
	}}
}

// NewDonationReceivedEvent returns the canonical payload for an accepted
// donation.
func NewDonationReceivedEvent(id [32]byte, donor [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDonationReceived, Attributes: map[string]string{
		"campaign": hex.EncodeToString(id[:]),
		"donor":    hex.EncodeToString(donor[:]),
		"amount":   formatAmount(amount),
	}}
}

// NewMilestoneReleasedEvent returns the canonical payload for a successful
// milestone release. Amount is the effective payout, which for the final
// milestone may differ from the nominal tranche size.
func NewMilestoneReleasedEvent(id [32]byte, index uint8, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeMilestoneReleased, Attributes: map[string]string{
		"campaign": hex.EncodeToString(id[:]),
		"index":    strconv.FormatUint(uint64(index), 10),
		"amount":   formatAmount(amount),
	}}
}

// NewRefundIssuedEvent returns the canonical payload for a completed refund.
func NewRefundIssuedEvent(id [32]byte, donor [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRefundIssued, Attributes: map[string]string{
		"campaign": hex.EncodeToString(id[:]),
		"donor":    hex.EncodeToString(donor[:]),
		"amount":   formatAmount(amount),
	}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
