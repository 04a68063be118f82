package crowdfund

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crowdvault/core/events"
	"crowdvault/core/types"
)

var errNilState = errors.New("crowdfund engine: state not configured")

// Bounds enforced by UpdateDisputeSeconds. The floor keeps donors a real
// window to react; the ceiling prevents an authority from freezing releases
// indefinitely.
const (
	MinDisputeSeconds int64 = 60
	MaxDisputeSeconds int64 = 30 * 24 * 60 * 60
)

type engineState interface {
	ConfigGet() (*SystemConfig, bool)
	ConfigPut(*SystemConfig) error
	CampaignGet(id [32]byte) (*Campaign, bool)
	CampaignPut(*Campaign) error
	ReceiptGet(campaign [32]byte, donor [20]byte) (*DonationReceipt, bool)
	ReceiptPut(*DonationReceipt) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type crowdfundEvent struct {
	evt *types.Event
}

func (e crowdfundEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e crowdfundEvent) Event() *types.Event { return e.evt }

// Engine wires the crowdfunding escrow business logic with external state and
// event emitters. Every operation is a single atomic step: all preconditions
// are checked before any record is mutated, so a failure leaves state
// untouched.
type Engine struct {
	state             engineState
	emitter           events.Emitter
	nowFn             func() int64
	refundDisputeGate bool
}

// NewEngine creates a crowdfund engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRefundDisputeGate toggles the optional post-deadline dispute gate on
// refunds. When enabled, Refund additionally requires the dispute window to
// have elapsed after the campaign deadline. Disabled by default, so refund
// eligibility is deadline-and-target only.
func (e *Engine) SetRefundDisputeGate(enabled bool) { e.refundDisputeGate = enabled }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(crowdfundEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// DeriveCampaignID computes the deterministic identifier for a campaign from
// the creator, the creator's account nonce at creation time and the title.
func DeriveCampaignID(creator [20]byte, nonce uint64, title string) [32]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return ethcrypto.Keccak256Hash(creator[:], nonceBytes[:], []byte(title))
}

// DeriveVaultAddress computes the custody address holding a campaign's pooled
// funds. It is derived from the campaign ID so the vault needs no stored
// mapping.
func DeriveVaultAddress(id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256([]byte("crowdfund/vault"), id[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func (e *Engine) loadConfig() (*SystemConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, ok := e.state.ConfigGet()
	if !ok {
		return nil, ErrConfigNotInitialized
	}
	return cfg, nil
}

func (e *Engine) loadCampaign(id [32]byte) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	campaign, ok := e.state.CampaignGet(id)
	if !ok {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// InitiateContract creates the system config singleton with the caller as
// authority. It fails if the singleton already exists.
func (e *Engine) InitiateContract(authority [20]byte, disputeSeconds int64) (*SystemConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if disputeSeconds < 0 {
		return nil, fmt.Errorf("%w: %d", ErrDisputeSecondsOutOfRange, disputeSeconds)
	}
	if _, ok := e.state.ConfigGet(); ok {
		return nil, ErrConfigInitialized
	}
	cfg := &SystemConfig{Authority: authority, DisputeSeconds: disputeSeconds}
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// UpdateAuthority replaces the administrative authority. Only the current
// authority may call it.
func (e *Engine) UpdateAuthority(caller, newAuthority [20]byte) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Authority != caller {
		return ErrUnauthorized
	}
	cfg.Authority = newAuthority
	if err := e.state.ConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewConfigUpdatedEvent(cfg))
	return nil
}

// UpdateDisputeSeconds changes the dispute window. Only the authority may
// call it, and the new window must fall within [MinDisputeSeconds,
// MaxDisputeSeconds] to prevent degenerate windows.
func (e *Engine) UpdateDisputeSeconds(caller [20]byte, disputeSeconds int64) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Authority != caller {
		return ErrUnauthorized
	}
	if disputeSeconds < MinDisputeSeconds || disputeSeconds > MaxDisputeSeconds {
		return fmt.Errorf("%w: %d", ErrDisputeSecondsOutOfRange, disputeSeconds)
	}
	cfg.DisputeSeconds = disputeSeconds
	if err := e.state.ConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewConfigUpdatedEvent(cfg))
	return nil
}

// LockCampaign flips the admin circuit breaker on a campaign. While locked no
// milestone release is permitted regardless of other conditions. Only the
// config authority may call it.
func (e *Engine) LockCampaign(caller [20]byte, id [32]byte, locked bool) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Authority != caller {
		return ErrUnauthorized
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return err
	}
	campaign.Locked = locked
	if err := e.state.CampaignPut(campaign); err != nil {
		return err
	}
	e.emit(NewCampaignLockedEvent(id, locked))
	return nil
}

// CreateCampaign validates and persists a new campaign. The funding target is
// the sum of the milestone amounts; the final milestone's effective payout is
// recomputed at release time so overfunding flows into it. Requires the
// system config to exist.
func (e *Engine) CreateCampaign(creator [20]byte, durationSeconds int64, amounts []*big.Int, descriptions []string, title, description, imageURL string) (*Campaign, error) {
	if _, err := e.loadConfig(); err != nil {
		return nil, err
	}
	if durationSeconds <= 0 {
		return nil, ErrInvalidDuration
	}
	if len(amounts) == 0 || len(amounts) > MaxMilestones {
		return nil, fmt.Errorf("%w: %d milestones", ErrBadMilestone, len(amounts))
	}
	if len(amounts) != len(descriptions) {
		return nil, fmt.Errorf("%w: %d amounts, %d descriptions", ErrBadMilestone, len(amounts), len(descriptions))
	}
	title, description, imageURL = trimMeta(title, description, imageURL)
	if len(title) > MaxTitleLen || len(description) > MaxDescriptionLen || len(imageURL) > MaxImageURLLen {
		return nil, fmt.Errorf("crowdfund: metadata exceeds length limits")
	}
	target := big.NewInt(0)
	for i, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrBadMilestone, i)
		}
		target = target.Add(target, amount)
	}
	acc, err := e.state.GetAccount(creator[:])
	if err != nil {
		return nil, err
	}
	acc = ensureAccount(acc)
	now := e.now()
	id := DeriveCampaignID(creator, acc.Nonce, title)
	if _, ok := e.state.CampaignGet(id); ok {
		return nil, fmt.Errorf("crowdfund: campaign identifier collision")
	}
	campaign := &Campaign{
		ID:             id,
		Creator:        creator,
		Vault:          DeriveVaultAddress(id),
		TargetLamports: target,
		StartTs:        now,
		EndTs:          now + durationSeconds,
		TotalDonated:   big.NewInt(0),
		MilestoneCount: uint8(len(amounts)),
		Title:          title,
		Description:    description,
		ImageURL:       imageURL,
	}
	count := int64(len(amounts))
	for i := range amounts {
		campaign.Milestones[i] = Milestone{
			Amount:      cloneBigInt(amounts[i]),
			Description: descriptions[i],
			// Projected schedule only; release is gated by the dispute
			// window, not this timestamp.
			ReleaseTs: now + int64(i)*durationSeconds/count,
		}
	}
	acc.Nonce++
	if err := e.state.PutAccount(creator[:], acc); err != nil {
		return nil, err
	}
	if err := e.state.CampaignPut(campaign); err != nil {
		return nil, err
	}
	e.emit(NewCampaignCreatedEvent(campaign))
	return campaign.Clone(), nil
}

// Donate moves amount from the donor to the campaign vault and records it on
// the donor's receipt, creating the receipt on first contribution. Donations
// are accepted only while the campaign window is open and before the final
// milestone has been released.
func (e *Engine) Donate(donor [20]byte, id [32]byte, amount *big.Int) (*DonationReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now >= campaign.EndTs {
		return nil, ErrCampaignEnded
	}
	if last := campaign.LastMilestoneIndex(); last >= 0 && campaign.Milestones[last].Released {
		return nil, fmt.Errorf("%w: final milestone already released", ErrBadMilestone)
	}
	if err := e.transfer(donor, campaign.Vault, amt); err != nil {
		return nil, err
	}
	campaign.TotalDonated = new(big.Int).Add(campaign.TotalDonated, amt)
	if err := e.state.CampaignPut(campaign); err != nil {
		return nil, err
	}
	receipt, ok := e.state.ReceiptGet(id, donor)
	if !ok {
		receipt = &DonationReceipt{Campaign: id, Donor: donor, Lamports: cloneBigInt(amt)}
	} else {
		receipt.Lamports = new(big.Int).Add(cloneBigInt(receipt.Lamports), amt)
	}
	if err := e.state.ReceiptPut(receipt); err != nil {
		return nil, err
	}
	e.emit(NewDonationReceivedEvent(id, donor, amt))
	return receipt.Clone(), nil
}

// Release pays the milestone at index out of the vault to the campaign
// creator. Milestones release strictly in order, each gated by the dispute
// window measured from the previous release (or the campaign start for the
// first). The released amount is returned: the nominal tranche for all but
// the final milestone, and totalDonated minus the prior tranches for the
// final one so overfunding is captured.
func (e *Engine) Release(caller [20]byte, id [32]byte, index uint8) (*big.Int, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	// The admin lock overrides everything, including authorization.
	if campaign.Locked {
		return nil, ErrCampaignLocked
	}
	if campaign.Creator != caller {
		return nil, ErrUnauthorized
	}
	if int(index) >= int(campaign.MilestoneCount) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidMilestone, index, campaign.MilestoneCount)
	}
	if campaign.Milestones[index].Released {
		return nil, ErrAlreadyReleased
	}
	if campaign.TotalDonated.Cmp(campaign.TargetLamports) < 0 {
		return nil, ErrTargetNotReached
	}
	for i := 0; i < int(index); i++ {
		if !campaign.Milestones[i].Released {
			return nil, fmt.Errorf("%w: milestone %d", ErrMilestoneNotReady, i)
		}
	}
	now := e.now()
	windowStart := campaign.StartTs
	if campaign.LastReleaseTs != 0 {
		windowStart = campaign.LastReleaseTs
	}
	if now-windowStart < cfg.DisputeSeconds {
		return nil, ErrDisputeWindowOpen
	}
	effective := cloneBigInt(campaign.Milestones[index].Amount)
	if int(index) == campaign.LastMilestoneIndex() {
		prior := big.NewInt(0)
		for i := 0; i < int(index); i++ {
			prior = prior.Add(prior, campaign.Milestones[i].Amount)
		}
		effective = new(big.Int).Sub(campaign.TotalDonated, prior)
		// Saturate rather than underflow; the target check above should make
		// this unreachable.
		if effective.Sign() < 0 {
			effective = big.NewInt(0)
		}
	}
	if err := e.transfer(campaign.Vault, campaign.Creator, effective); err != nil {
		return nil, err
	}
	campaign.Milestones[index].Released = true
	campaign.Milestones[index].ReleasedAt = now
	campaign.LastReleaseTs = now
	if err := e.state.CampaignPut(campaign); err != nil {
		return nil, err
	}
	e.emit(NewMilestoneReleasedEvent(id, index, effective))
	return effective, nil
}

// Refund returns the donor's full recorded contribution from the vault once
// the campaign has failed: deadline passed without reaching the target.
// Refunds are all-or-nothing per donor and succeed at most once.
func (e *Engine) Refund(donor [20]byte, id [32]byte) (*big.Int, error) {
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if !campaign.Failed(now) {
		return nil, ErrNotFailed
	}
	if e.refundDisputeGate {
		cfg, err := e.loadConfig()
		if err != nil {
			return nil, err
		}
		if now < campaign.EndTs+cfg.DisputeSeconds {
			return nil, ErrInDispute
		}
	}
	receipt, ok := e.state.ReceiptGet(id, donor)
	if !ok {
		return nil, ErrNothingToRefund
	}
	if receipt.Refunded || receipt.Lamports == nil || receipt.Lamports.Sign() <= 0 {
		return nil, ErrNothingToRefund
	}
	amount := cloneBigInt(receipt.Lamports)
	if err := e.transfer(campaign.Vault, donor, amount); err != nil {
		return nil, err
	}
	receipt.Refunded = true
	if err := e.state.ReceiptPut(receipt); err != nil {
		return nil, err
	}
	e.emit(NewRefundIssuedEvent(id, donor, amount))
	return amount, nil
}

// MilestoneStatus derives the current state of a milestone without mutating
// anything. It is the query counterpart of Release's precondition chain.
func (e *Engine) MilestoneStatus(id [32]byte, index uint8) (MilestoneState, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return MilestonePending, err
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return MilestonePending, err
	}
	if int(index) >= int(campaign.MilestoneCount) {
		return MilestonePending, fmt.Errorf("%w: %d of %d", ErrInvalidMilestone, index, campaign.MilestoneCount)
	}
	return campaign.MilestoneState(int(index), cfg.DisputeSeconds, e.now()), nil
}
