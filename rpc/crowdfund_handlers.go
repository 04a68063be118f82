package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"crowdvault/native/crowdfund"
	"crowdvault/observability"
)

type initiateContractParams struct {
	Authority      string `json:"authority"`
	DisputeSeconds int64  `json:"disputeSeconds"`
}

type updateAuthorityParams struct {
	Caller       string `json:"caller"`
	NewAuthority string `json:"newAuthority"`
}

type updateDisputeSecondsParams struct {
	Caller         string `json:"caller"`
	DisputeSeconds int64  `json:"disputeSeconds"`
}

type lockCampaignParams struct {
	Caller   string `json:"caller"`
	Campaign string `json:"campaign"`
	Locked   bool   `json:"locked"`
}

type milestoneParam struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type createCampaignParams struct {
	Creator         string           `json:"creator"`
	DurationSeconds int64            `json:"durationSeconds"`
	Milestones      []milestoneParam `json:"milestones"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	ImageURL        string           `json:"imageUrl"`
}

type donateParams struct {
	Donor    string `json:"donor"`
	Campaign string `json:"campaign"`
	Amount   string `json:"amount"`
}

type releaseParams struct {
	Caller   string `json:"caller"`
	Campaign string `json:"campaign"`
	Index    uint8  `json:"index"`
}

type refundParams struct {
	Donor    string `json:"donor"`
	Campaign string `json:"campaign"`
}

type campaignIDParams struct {
	Campaign string `json:"campaign"`
}

type receiptParams struct {
	Campaign string `json:"campaign"`
	Donor    string `json:"donor"`
}

type milestoneStatusParams struct {
	Campaign string `json:"campaign"`
	Index    uint8  `json:"index"`
}

type configJSON struct {
	Authority      string `json:"authority"`
	DisputeSeconds int64  `json:"disputeSeconds"`
}

type milestoneJSON struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
	ReleaseTs   int64  `json:"releaseTs"`
	Released    bool   `json:"released"`
	ReleasedAt  int64  `json:"releasedAt,omitempty"`
	Status      string `json:"status"`
}

type campaignJSON struct {
	ID             string          `json:"id"`
	Creator        string          `json:"creator"`
	Vault          string          `json:"vault"`
	TargetLamports string          `json:"targetLamports"`
	StartTs        int64           `json:"startTs"`
	EndTs          int64           `json:"endTs"`
	TotalDonated   string          `json:"totalDonated"`
	Milestones     []milestoneJSON `json:"milestones"`
	LastReleaseTs  int64           `json:"lastReleaseTs"`
	Locked         bool            `json:"locked"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	ImageURL       string          `json:"imageUrl"`
	VaultBalance   string          `json:"vaultBalance"`
}

type receiptJSON struct {
	Campaign string `json:"campaign"`
	Donor    string `json:"donor"`
	Lamports string `json:"lamports"`
	Refunded bool   `json:"refunded"`
}

type releaseResult struct {
	Campaign string `json:"campaign"`
	Index    uint8  `json:"index"`
	Amount   string `json:"amount"`
}

type refundResult struct {
	Campaign string `json:"campaign"`
	Donor    string `json:"donor"`
	Amount   string `json:"amount"`
}

type milestoneStatusResult struct {
	Campaign string `json:"campaign"`
	Index    uint8  `json:"index"`
	Status   string `json:"status"`
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(raw) != 20 {
		return addr, errors.New("address must be 20 bytes")
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseCampaignID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, err
	}
	if len(raw) != 32 {
		return id, errors.New("campaign id must be 32 bytes")
	}
	copy(id[:], raw)
	return id, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return amount, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// errorIdentifier maps an engine error to the stable identifier and RPC code
// surfaced to callers, so a UI can present a precise message per kind.
func errorIdentifier(err error) (string, int, int) {
	switch {
	case errors.Is(err, crowdfund.ErrConfigInitialized):
		return "config_initialized", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrConfigNotInitialized):
		return "config_not_initialized", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrUnauthorized):
		return "unauthorized", codeUnauthorized, http.StatusForbidden
	case errors.Is(err, crowdfund.ErrBadMilestone):
		return "bad_milestone", codeInvalidParams, http.StatusBadRequest
	case errors.Is(err, crowdfund.ErrInvalidMilestone):
		return "invalid_milestone", codeInvalidParams, http.StatusBadRequest
	case errors.Is(err, crowdfund.ErrAlreadyReleased):
		return "already_released", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrMilestoneNotReady):
		return "milestone_not_ready", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrTargetNotReached):
		return "target_not_reached", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrDisputeWindowOpen):
		return "dispute_window_open", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrCampaignLocked):
		return "campaign_locked", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrNotFailed):
		return "not_failed", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrInDispute):
		return "in_dispute", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrNothingToRefund):
		return "nothing_to_refund", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrCampaignEnded):
		return "campaign_ended", codePrecondition, http.StatusConflict
	case errors.Is(err, crowdfund.ErrCampaignNotFound):
		return "campaign_not_found", codeNotFound, http.StatusNotFound
	case errors.Is(err, crowdfund.ErrInvalidAmount):
		return "invalid_amount", codeInvalidParams, http.StatusBadRequest
	case errors.Is(err, crowdfund.ErrInvalidDuration):
		return "invalid_duration", codeInvalidParams, http.StatusBadRequest
	case errors.Is(err, crowdfund.ErrDisputeSecondsOutOfRange):
		return "dispute_seconds_out_of_range", codeInvalidParams, http.StatusBadRequest
	case errors.Is(err, crowdfund.ErrInsufficientBalance):
		return "insufficient_balance", codePrecondition, http.StatusConflict
	default:
		return "internal_error", codeServerError, http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, operation string, start time.Time, err error) {
	identifier, code, status := errorIdentifier(err)
	observability.Metrics().Observe(operation, start, identifier)
	writeError(w, status, id, code, identifier, err.Error())
}

func (s *Server) handleInitiateContract(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params initiateContractParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := parseAddress(params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	cfg, err := s.engine.InitiateContract(authority, params.DisputeSeconds)
	if err != nil {
		writeEngineError(w, req.ID, "initiate_contract", start, err)
		return
	}
	observability.Metrics().Observe("initiate_contract", start, "")
	writeResult(w, req.ID, configView(cfg))
}

func (s *Server) handleUpdateAuthority(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params updateAuthorityParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	newAuthority, err := parseAddress(params.NewAuthority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.UpdateAuthority(caller, newAuthority); err != nil {
		writeEngineError(w, req.ID, "update_authority", start, err)
		return
	}
	observability.Metrics().Observe("update_authority", start, "")
	writeResult(w, req.ID, true)
}

func (s *Server) handleUpdateDisputeSeconds(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params updateDisputeSecondsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.UpdateDisputeSeconds(caller, params.DisputeSeconds); err != nil {
		writeEngineError(w, req.ID, "update_dispute_seconds", start, err)
		return
	}
	observability.Metrics().Observe("update_dispute_seconds", start, "")
	writeResult(w, req.ID, true)
}

func (s *Server) handleLockCampaign(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params lockCampaignParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignID(params.Campaign)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.LockCampaign(caller, id, params.Locked); err != nil {
		writeEngineError(w, req.ID, "lock_campaign", start, err)
		return
	}
	observability.Metrics().Observe("lock_campaign", start, "")
	writeResult(w, req.ID, true)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params createCampaignParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amounts := make([]*big.Int, 0, len(params.Milestones))
	descriptions := make([]string, 0, len(params.Milestones))
	for _, milestone := range params.Milestones {
		amount, err := parseAmount(milestone.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		amounts = append(amounts, amount)
		descriptions = append(descriptions, milestone.Description)
	}
	campaign, err := s.engine.CreateCampaign(creator, params.DurationSeconds, amounts, descriptions, params.Title, params.Description, params.ImageURL)
	if err != nil {
		writeEngineError(w, req.ID, "create_campaign", start, err)
		return
	}
	observability.Metrics().Observe("create_campaign", start, "")
	writeResult(w, req.ID, s.campaignView(campaign))
}

func (s *Server) handleDonate(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params donateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	donor, err := parseAddress(params.Donor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignID(params.Campaign)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.engine.Donate(donor, id, amount)
	if err != nil {
		writeEngineError(w, req.ID, "donate", start, err)
		return
	}
	observability.Metrics().Observe("donate", start, "")
	writeResult(w, req.ID, receiptView(receipt))
}

func (s *Server) handleRelease(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params releaseParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignID(params.Campaign)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.Release(caller, id, params.Index)
	if err != nil {
		writeEngineError(w, req.ID, "release", start, err)
		return
	}
	observability.Metrics().Observe("release", start, "")
	writeResult(w, req.ID, releaseResult{
		Campaign: params.Campaign,
		Index:    params.Index,
		Amount:   amount.String(),
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, req *RPCRequest) {
	start := time.Now()
	var params refundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	donor, err := parseAddress(params.Donor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignID(params.Campaign)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.Refund(donor, id)
	if err != nil {
		writeEngineError(w, req.ID, "refund", start, err)
		return
	}
	observability.Metrics().Observe("refund", start, "")
	writeResult(w, req.ID, refundResult{
		Campaign: params.Campaign,
		Donor:    params.Donor,
		Amount:   amount.String(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, req *RPCRequest) {
	cfg, ok := s.state.ConfigGet()
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "config_not_initialized", nil)
		return
	}
	writeResult(w, req.ID, configView(cfg))
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, req *RPCRequest) {
	var params campaignIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignID(params.Campaign)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	campaign, ok := s.state.CampaignGet(id)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "campaign_not_found", params.Campaign)
		return
	}
	writeResult(w, req.ID, s.campaignView(campaign))
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, req *RPCRequest) {
	campaigns, err := s.state.CampaignList()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	views := make([]campaignJSON, 0, len(campaigns))
	for _, campaign := range campaigns {
		views = append(views, s.campaignView(campaign))
	}
	writeResult(w, req.ID, views)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, req *RPCRequest) {
	var params receiptParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignID(params.Campaign)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	donor, err := parseAddress(params.Donor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, ok := s.state.ReceiptGet(id, donor)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "receipt_not_found", nil)
		return
	}
	writeResult(w, req.ID, receiptView(receipt))
}

func (s *Server) handleMilestoneStatus(w http.ResponseWriter, req *RPCRequest) {
	var params milestoneStatusParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignID(params.Campaign)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	status, err := s.engine.MilestoneStatus(id, params.Index)
	if err != nil {
		writeEngineError(w, req.ID, "milestone_status", time.Now(), err)
		return
	}
	writeResult(w, req.ID, milestoneStatusResult{
		Campaign: params.Campaign,
		Index:    params.Index,
		Status:   status.String(),
	})
}

func configView(cfg *crowdfund.SystemConfig) configJSON {
	return configJSON{
		Authority:      hex.EncodeToString(cfg.Authority[:]),
		DisputeSeconds: cfg.DisputeSeconds,
	}
}

func (s *Server) campaignView(campaign *crowdfund.Campaign) campaignJSON {
	view := campaignJSON{
		ID:             hex.EncodeToString(campaign.ID[:]),
		Creator:        hex.EncodeToString(campaign.Creator[:]),
		Vault:          hex.EncodeToString(campaign.Vault[:]),
		TargetLamports: campaign.TargetLamports.String(),
		StartTs:        campaign.StartTs,
		EndTs:          campaign.EndTs,
		TotalDonated:   campaign.TotalDonated.String(),
		LastReleaseTs:  campaign.LastReleaseTs,
		Locked:         campaign.Locked,
		Title:          campaign.Title,
		Description:    campaign.Description,
		ImageURL:       campaign.ImageURL,
		VaultBalance:   "0",
	}
	disputeSeconds := int64(0)
	if cfg, ok := s.state.ConfigGet(); ok {
		disputeSeconds = cfg.DisputeSeconds
	}
	now := time.Now().Unix()
	for i := 0; i < int(campaign.MilestoneCount); i++ {
		milestone := campaign.Milestones[i]
		view.Milestones = append(view.Milestones, milestoneJSON{
			Amount:      milestone.Amount.String(),
			Description: milestone.Description,
			ReleaseTs:   milestone.ReleaseTs,
			Released:    milestone.Released,
			ReleasedAt:  milestone.ReleasedAt,
			Status:      campaign.MilestoneState(i, disputeSeconds, now).String(),
		})
	}
	if vault, err := s.state.GetAccount(campaign.Vault[:]); err == nil && vault.Balance != nil {
		view.VaultBalance = vault.Balance.String()
	}
	return view
}

func receiptView(receipt *crowdfund.DonationReceipt) receiptJSON {
	return receiptJSON{
		Campaign: hex.EncodeToString(receipt.Campaign[:]),
		Donor:    hex.EncodeToString(receipt.Donor[:]),
		Lamports: receipt.Lamports.String(),
		Refunded: receipt.Refunded,
	}
}
