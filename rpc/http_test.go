package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"crowdvault/core/state"
	"crowdvault/core/types"
	"crowdvault/native/crowdfund"
	"crowdvault/storage"
)

const testSol = int64(1_000_000_000)

type rpcTestEnv struct {
	server  *httptest.Server
	manager *state.Manager
	now     *int64
}

func newRPCTestEnv(t *testing.T) *rpcTestEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := crowdfund.NewEngine()
	engine.SetState(manager)
	now := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 { return now })

	srv := NewServer(engine, manager)
	srv.SetAuthToken("")
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &rpcTestEnv{server: ts, manager: manager, now: &now}
}

type rpcResult struct {
	status int
	Result json.RawMessage
	Error  *RPCError
}

func (env *rpcTestEnv) call(t *testing.T, token, method string, params interface{}) rpcResult {
	t.Helper()
	reqParams := []interface{}{}
	if params != nil {
		reqParams = append(reqParams, params)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  reqParams,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	out := rpcResult{status: resp.StatusCode, Error: decoded.Error}
	if decoded.Result != nil {
		raw, err := json.Marshal(decoded.Result)
		if err != nil {
			t.Fatalf("re-marshal result: %v", err)
		}
		out.Result = raw
	}
	return out
}

func (env *rpcTestEnv) mustCall(t *testing.T, method string, params, out interface{}) {
	t.Helper()
	res := env.call(t, "", method, params)
	if res.Error != nil {
		t.Fatalf("%s: %+v", method, res.Error)
	}
	if out != nil {
		if err := json.Unmarshal(res.Result, out); err != nil {
			t.Fatalf("%s: decode result: %v", method, err)
		}
	}
}

func hexAddr(fill byte) string {
	raw := bytes.Repeat([]byte{fill}, 20)
	return hex.EncodeToString(raw)
}

func (env *rpcTestEnv) fund(t *testing.T, addr string, amount int64) {
	t.Helper()
	raw, err := hex.DecodeString(addr)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if err := env.manager.PutAccount(raw, &types.Account{Balance: big.NewInt(amount)}); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func TestRPCRejectsMalformedRequests(t *testing.T) {
	env := newRPCTestEnv(t)

	resp, err := http.Get(env.server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status: %d", resp.StatusCode)
	}

	resp, err = http.Post(env.server.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", decoded.Error)
	}

	res := env.call(t, "", "crowdfund_unknownMethod", nil)
	if res.Error == nil || res.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method_not_found, got %+v", res.Error)
	}
}

func TestRPCAuthToken(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	engine := crowdfund.NewEngine()
	engine.SetState(manager)
	srv := NewServer(engine, manager)
	srv.SetAuthToken("secret-token")
	ts := httptest.NewServer(srv)
	defer ts.Close()
	env := &rpcTestEnv{server: ts, manager: manager}

	params := initiateContractParams{Authority: hexAddr(0x01), DisputeSeconds: 3600}
	res := env.call(t, "", "crowdfund_initiateContract", params)
	if res.status != http.StatusUnauthorized || res.Error == nil || res.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got status %d error %+v", res.status, res.Error)
	}
	res = env.call(t, "wrong-token", "crowdfund_initiateContract", params)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("wrong token should be rejected, got %d", res.status)
	}
	res = env.call(t, "secret-token", "crowdfund_initiateContract", params)
	if res.Error != nil {
		t.Fatalf("valid token rejected: %+v", res.Error)
	}
	// Queries stay open regardless of the token.
	res = env.call(t, "", "crowdfund_getConfig", nil)
	if res.Error != nil {
		t.Fatalf("query should not require auth: %+v", res.Error)
	}
}

func TestRPCLifecycle(t *testing.T) {
	env := newRPCTestEnv(t)
	authority := hexAddr(0x01)
	creator := hexAddr(0x10)
	donor := hexAddr(0x20)
	env.fund(t, donor, 20*testSol)

	var cfg configJSON
	env.mustCall(t, "crowdfund_initiateContract", initiateContractParams{Authority: authority, DisputeSeconds: 3600}, &cfg)
	if cfg.DisputeSeconds != 3600 || cfg.Authority != authority {
		t.Fatalf("unexpected config view: %+v", cfg)
	}

	var campaign campaignJSON
	env.mustCall(t, "crowdfund_createCampaign", createCampaignParams{
		Creator:         creator,
		DurationSeconds: 86_400,
		Milestones: []milestoneParam{
			{Amount: fmt.Sprintf("%d", 4*testSol), Description: "first"},
			{Amount: fmt.Sprintf("%d", 6*testSol), Description: "second"},
		},
		Title:       "RPC Campaign",
		Description: "end to end",
	}, &campaign)
	if campaign.TargetLamports != fmt.Sprintf("%d", 10*testSol) {
		t.Fatalf("target: %s", campaign.TargetLamports)
	}
	if len(campaign.Milestones) != 2 {
		t.Fatalf("milestone views: %d", len(campaign.Milestones))
	}

	var receipt receiptJSON
	env.mustCall(t, "crowdfund_donate", donateParams{
		Donor:    donor,
		Campaign: campaign.ID,
		Amount:   fmt.Sprintf("%d", 12*testSol),
	}, &receipt)
	if receipt.Lamports != fmt.Sprintf("%d", 12*testSol) || receipt.Refunded {
		t.Fatalf("receipt view: %+v", receipt)
	}

	var fetched campaignJSON
	env.mustCall(t, "crowdfund_getCampaign", campaignIDParams{Campaign: campaign.ID}, &fetched)
	if fetched.TotalDonated != fmt.Sprintf("%d", 12*testSol) {
		t.Fatalf("total donated: %s", fetched.TotalDonated)
	}
	if fetched.VaultBalance != fmt.Sprintf("%d", 12*testSol) {
		t.Fatalf("vault balance: %s", fetched.VaultBalance)
	}

	var list []campaignJSON
	env.mustCall(t, "crowdfund_listCampaigns", nil, &list)
	if len(list) != 1 || list[0].ID != campaign.ID {
		t.Fatalf("campaign list: %+v", list)
	}

	// An immediate release fails while the dispute window is open, surfaced
	// over the wire with a stable identifier.
	res := env.call(t, "", "crowdfund_release", releaseParams{Caller: creator, Campaign: campaign.ID, Index: 0})
	if res.status != http.StatusConflict || res.Error == nil || res.Error.Message != "dispute_window_open" {
		t.Fatalf("expected dispute_window_open conflict, got status %d error %+v", res.status, res.Error)
	}

	*env.now += 3600
	var released releaseResult
	env.mustCall(t, "crowdfund_release", releaseParams{Caller: creator, Campaign: campaign.ID, Index: 0}, &released)
	if released.Amount != fmt.Sprintf("%d", 4*testSol) {
		t.Fatalf("released amount: %s", released.Amount)
	}

	var status milestoneStatusResult
	env.mustCall(t, "crowdfund_milestoneStatus", milestoneStatusParams{Campaign: campaign.ID, Index: 0}, &status)
	if status.Status != "released" {
		t.Fatalf("milestone status: %s", status.Status)
	}
}

func TestRPCRefundFlow(t *testing.T) {
	env := newRPCTestEnv(t)
	creator := hexAddr(0x10)
	donor := hexAddr(0x20)
	env.fund(t, donor, 20*testSol)
	env.mustCall(t, "crowdfund_initiateContract", initiateContractParams{Authority: hexAddr(0x01), DisputeSeconds: 3600}, nil)

	var campaign campaignJSON
	env.mustCall(t, "crowdfund_createCampaign", createCampaignParams{
		Creator:         creator,
		DurationSeconds: 900,
		Milestones:      []milestoneParam{{Amount: fmt.Sprintf("%d", 10*testSol), Description: "all"}},
		Title:           "Refund Campaign",
	}, &campaign)
	env.mustCall(t, "crowdfund_donate", donateParams{Donor: donor, Campaign: campaign.ID, Amount: fmt.Sprintf("%d", 3*testSol)}, nil)

	res := env.call(t, "", "crowdfund_refund", refundParams{Donor: donor, Campaign: campaign.ID})
	if res.status != http.StatusConflict || res.Error == nil || res.Error.Message != "not_failed" {
		t.Fatalf("expected not_failed conflict, got status %d error %+v", res.status, res.Error)
	}

	*env.now = campaign.EndTs + 1
	var refunded refundResult
	env.mustCall(t, "crowdfund_refund", refundParams{Donor: donor, Campaign: campaign.ID}, &refunded)
	if refunded.Amount != fmt.Sprintf("%d", 3*testSol) {
		t.Fatalf("refund amount: %s", refunded.Amount)
	}

	res = env.call(t, "", "crowdfund_refund", refundParams{Donor: donor, Campaign: campaign.ID})
	if res.Error == nil || res.Error.Message != "nothing_to_refund" {
		t.Fatalf("expected nothing_to_refund, got %+v", res.Error)
	}
}

func TestRPCValidatesParams(t *testing.T) {
	env := newRPCTestEnv(t)

	res := env.call(t, "", "crowdfund_getCampaign", campaignIDParams{Campaign: "zz"})
	if res.Error == nil || res.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params for bad hex, got %+v", res.Error)
	}
	res = env.call(t, "", "crowdfund_donate", donateParams{Donor: hexAddr(0x20), Campaign: hexAddr(0x01), Amount: "1"})
	if res.Error == nil || res.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params for short campaign id, got %+v", res.Error)
	}
	res = env.call(t, "", "crowdfund_getCampaign", campaignIDParams{Campaign: hex.EncodeToString(bytes.Repeat([]byte{0x07}, 32))})
	if res.status != http.StatusNotFound || res.Error == nil || res.Error.Code != codeNotFound {
		t.Fatalf("expected not found for unknown campaign, got status %d error %+v", res.status, res.Error)
	}
}
