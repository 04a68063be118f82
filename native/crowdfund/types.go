package crowdfund

import (
	"fmt"
	"math/big"
	"strings"
)

// MaxMilestones caps the number of milestone slots embedded in a campaign
// record. The array is fixed-capacity so campaign records stay bounded in
// size regardless of input.
const MaxMilestones = 5

// Metadata length caps, enforced at campaign creation.
const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
	MaxImageURLLen    = 200
)

// MilestoneState is the derived lifecycle position of a single milestone. It
// is never persisted: status is computed from stored flags and timestamps so
// there is a single source of truth.
type MilestoneState uint8

const (
	// MilestonePending means funding or sequencing preconditions are not yet
	// satisfied.
	MilestonePending MilestoneState = iota
	// MilestoneDisputed means the milestone is fully eligible except that the
	// dispute window has not yet elapsed.
	MilestoneDisputed
	// MilestoneAvailable means the milestone can be released now.
	MilestoneAvailable
	// MilestoneReleased is terminal.
	MilestoneReleased
)

// String returns the canonical lowercase label for the state.
func (s MilestoneState) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneDisputed:
		return "disputed"
	case MilestoneAvailable:
		return "available"
	case MilestoneReleased:
		return "released"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// SystemConfig is the process-wide singleton holding the administrative
// authority and the dispute-window duration. It is created exactly once and
// never deleted.
type SystemConfig struct {
	Authority      [20]byte `json:"authority"`
	DisputeSeconds int64    `json:"disputeSeconds"`
}

// Clone returns a copy safe for modification.
func (c *SystemConfig) Clone() *SystemConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Milestone is one tranche of a campaign's funding plan. Amount is the
// nominal tranche size; the final milestone's effective payout is recomputed
// at release time so overfunding flows entirely into it.
type Milestone struct {
	Amount      *big.Int `json:"amount"`
	Description string   `json:"description"`
	ReleaseTs   int64    `json:"releaseTs"`
	Released    bool     `json:"released"`
	ReleasedAt  int64    `json:"releasedAt"`
}

// Clone returns a deep copy of the milestone.
func (m Milestone) Clone() Milestone {
	clone := m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	return clone
}

// Campaign is one fundraising effort: a target, a deadline and an ordered,
// fixed-capacity milestone plan. Funds live in a separate vault account so
// the metadata record's size is independent of balance.
type Campaign struct {
	ID             [32]byte                  `json:"id"`
	Creator        [20]byte                  `json:"creator"`
	Vault          [20]byte                  `json:"vault"`
	TargetLamports *big.Int                  `json:"targetLamports"`
	StartTs        int64                     `json:"startTs"`
	EndTs          int64                     `json:"endTs"`
	TotalDonated   *big.Int                  `json:"totalDonated"`
	Milestones     [MaxMilestones]Milestone  `json:"milestones"`
	MilestoneCount uint8                     `json:"milestoneCount"`
	LastReleaseTs  int64                     `json:"lastReleaseTs"`
	Locked         bool                      `json:"locked"`
	Title          string                    `json:"title"`
	Description    string                    `json:"description"`
	ImageURL       string                    `json:"imageUrl"`
}

// Clone returns a deep copy of the campaign so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	if c.TargetLamports != nil {
		clone.TargetLamports = new(big.Int).Set(c.TargetLamports)
	}
	if c.TotalDonated != nil {
		clone.TotalDonated = new(big.Int).Set(c.TotalDonated)
	}
	for i := range c.Milestones {
		clone.Milestones[i] = c.Milestones[i].Clone()
	}
	return &clone
}

// LastMilestoneIndex returns the index of the final populated milestone slot.
func (c *Campaign) LastMilestoneIndex() int {
	if c == nil || c.MilestoneCount == 0 {
		return -1
	}
	return int(c.MilestoneCount) - 1
}

// Failed reports whether the campaign's deadline passed without reaching the
// funding target, i.e. the refund precondition.
func (c *Campaign) Failed(now int64) bool {
	if c == nil {
		return false
	}
	if now < c.EndTs {
		return false
	}
	total := c.TotalDonated
	if total == nil {
		total = big.NewInt(0)
	}
	return total.Cmp(c.TargetLamports) < 0
}

// MilestoneState derives the lifecycle position of the milestone at index
// from stored flags, campaign timestamps and the supplied clock. The status
// is never stored.
func (c *Campaign) MilestoneState(index int, disputeSeconds, now int64) MilestoneState {
	if c == nil || index < 0 || index >= int(c.MilestoneCount) {
		return MilestonePending
	}
	if c.Milestones[index].Released {
		return MilestoneReleased
	}
	total := c.TotalDonated
	if total == nil {
		total = big.NewInt(0)
	}
	if total.Cmp(c.TargetLamports) < 0 {
		return MilestonePending
	}
	for i := 0; i < index; i++ {
		if !c.Milestones[i].Released {
			return MilestonePending
		}
	}
	windowStart := c.StartTs
	if c.LastReleaseTs != 0 {
		windowStart = c.LastReleaseTs
	}
	if now-windowStart < disputeSeconds {
		return MilestoneDisputed
	}
	return MilestoneAvailable
}

// SanitizeCampaign validates and normalises the supplied campaign, returning
// a cloned instance with non-nil amount fields. The original value is not
// mutated.
func SanitizeCampaign(c *Campaign) (*Campaign, error) {
	if c == nil {
		return nil, fmt.Errorf("crowdfund: nil campaign")
	}
	clone := c.Clone()
	if clone.MilestoneCount == 0 || clone.MilestoneCount > MaxMilestones {
		return nil, fmt.Errorf("%w: count %d", ErrBadMilestone, clone.MilestoneCount)
	}
	if clone.TargetLamports == nil {
		clone.TargetLamports = big.NewInt(0)
	}
	if clone.TotalDonated == nil {
		clone.TotalDonated = big.NewInt(0)
	}
	if clone.TargetLamports.Sign() <= 0 {
		return nil, fmt.Errorf("crowdfund: target must be positive")
	}
	if clone.TotalDonated.Sign() < 0 {
		return nil, fmt.Errorf("crowdfund: total donated must be non-negative")
	}
	if clone.EndTs <= clone.StartTs {
		return nil, fmt.Errorf("crowdfund: end timestamp must follow start")
	}
	if len(clone.Title) > MaxTitleLen || len(clone.Description) > MaxDescriptionLen || len(clone.ImageURL) > MaxImageURLLen {
		return nil, fmt.Errorf("crowdfund: metadata exceeds length limits")
	}
	for i := 0; i < int(clone.MilestoneCount); i++ {
		ms := &clone.Milestones[i]
		if ms.Amount == nil {
			ms.Amount = big.NewInt(0)
		}
		if ms.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrBadMilestone, i)
		}
		if len(ms.Description) > MaxDescriptionLen {
			return nil, fmt.Errorf("%w: milestone %d description too long", ErrBadMilestone, i)
		}
	}
	return clone, nil
}

// DonationReceipt is the per-(campaign, donor) ledger entry. The first
// donation creates it, later donations accumulate into Lamports, and a
// successful refund flips Refunded exactly once.
type DonationReceipt struct {
	Campaign [32]byte `json:"campaign"`
	Donor    [20]byte `json:"donor"`
	Lamports *big.Int `json:"lamports"`
	Refunded bool     `json:"refunded"`
}

// Clone returns a deep copy of the receipt.
func (r *DonationReceipt) Clone() *DonationReceipt {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Lamports != nil {
		clone.Lamports = new(big.Int).Set(r.Lamports)
	}
	return &clone
}

// SanitizeReceipt validates and normalises the supplied receipt without
// mutating the original.
func SanitizeReceipt(r *DonationReceipt) (*DonationReceipt, error) {
	if r == nil {
		return nil, fmt.Errorf("crowdfund: nil receipt")
	}
	clone := r.Clone()
	if clone.Lamports == nil {
		clone.Lamports = big.NewInt(0)
	}
	if clone.Lamports.Sign() < 0 {
		return nil, fmt.Errorf("crowdfund: receipt amount must be non-negative")
	}
	return clone, nil
}

func trimMeta(title, description, imageURL string) (string, string, string) {
	return strings.TrimSpace(title), strings.TrimSpace(description), strings.TrimSpace(imageURL)
}
