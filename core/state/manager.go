package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"crowdvault/core/types"
	"crowdvault/native/crowdfund"
	"crowdvault/storage"
)

var (
	keyConfig        = []byte("crowdfund/config")
	keyCampaignIndex = []byte("crowdfund/campaign-index")
)

const (
	prefixCampaign = "crowdfund/campaign/"
	prefixReceipt  = "crowdfund/receipt/"
	prefixAccount  = "crowdfund/account/"
)

// Manager is the keyed record store backing the crowdfund engine. Records are
// JSON-encoded under prefixed keys; every read returns a clone so callers can
// never mutate stored state in place. A single mutex serialises individual
// record accesses; operation-level atomicity is provided by the caller
// holding one engine invocation at a time.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the supplied database in a record store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func campaignKey(id [32]byte) []byte {
	return []byte(prefixCampaign + hex.EncodeToString(id[:]))
}

func receiptKey(campaign [32]byte, donor [20]byte) []byte {
	return []byte(prefixReceipt + hex.EncodeToString(campaign[:]) + "/" + hex.EncodeToString(donor[:]))
}

func accountKey(addr []byte) []byte {
	return []byte(prefixAccount + hex.EncodeToString(addr))
}

// ConfigGet loads the system config singleton.
func (m *Manager) ConfigGet() (*crowdfund.SystemConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(keyConfig)
	if err != nil {
		return nil, false
	}
	cfg := new(crowdfund.SystemConfig)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, false
	}
	return cfg, true
}

// ConfigPut persists the system config singleton.
func (m *Manager) ConfigPut(cfg *crowdfund.SystemConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil system config")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return m.db.Put(keyConfig, raw)
}

// CampaignGet loads a campaign by identifier.
func (m *Manager) CampaignGet(id [32]byte) (*crowdfund.Campaign, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(campaignKey(id))
	if err != nil {
		return nil, false
	}
	campaign := new(crowdfund.Campaign)
	if err := json.Unmarshal(raw, campaign); err != nil {
		return nil, false
	}
	return campaign, true
}

// CampaignPut validates and persists a campaign, maintaining the listing
// index on first write.
func (m *Manager) CampaignPut(c *crowdfund.Campaign) error {
	sanitized, err := crowdfund.SanitizeCampaign(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := campaignKey(sanitized.ID)
	_, getErr := m.db.Get(key)
	isNew := errors.Is(getErr, storage.ErrNotFound)
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	if err := m.db.Put(key, raw); err != nil {
		return err
	}
	if isNew {
		return m.indexCampaign(sanitized.ID)
	}
	return nil
}

func (m *Manager) indexCampaign(id [32]byte) error {
	ids, err := m.campaignIndex()
	if err != nil {
		return err
	}
	encoded := hex.EncodeToString(id[:])
	for _, existing := range ids {
		if existing == encoded {
			return nil
		}
	}
	ids = append(ids, encoded)
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return m.db.Put(keyCampaignIndex, raw)
}

func (m *Manager) campaignIndex() ([]string, error) {
	raw, err := m.db.Get(keyCampaignIndex)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// CampaignList returns every stored campaign in creation order.
func (m *Manager) CampaignList() ([]*crowdfund.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, err := m.campaignIndex()
	if err != nil {
		return nil, err
	}
	campaigns := make([]*crowdfund.Campaign, 0, len(ids))
	for _, encoded := range ids {
		idBytes, err := hex.DecodeString(encoded)
		if err != nil || len(idBytes) != 32 {
			return nil, fmt.Errorf("state: malformed campaign index entry %q", encoded)
		}
		var id [32]byte
		copy(id[:], idBytes)
		raw, err := m.db.Get(campaignKey(id))
		if err != nil {
			return nil, err
		}
		campaign := new(crowdfund.Campaign)
		if err := json.Unmarshal(raw, campaign); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, nil
}

// ReceiptGet loads the donation receipt for a (campaign, donor) pair.
func (m *Manager) ReceiptGet(campaign [32]byte, donor [20]byte) (*crowdfund.DonationReceipt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(receiptKey(campaign, donor))
	if err != nil {
		return nil, false
	}
	receipt := new(crowdfund.DonationReceipt)
	if err := json.Unmarshal(raw, receipt); err != nil {
		return nil, false
	}
	return receipt, true
}

// ReceiptPut validates and persists a donation receipt.
func (m *Manager) ReceiptPut(r *crowdfund.DonationReceipt) error {
	sanitized, err := crowdfund.SanitizeReceipt(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return m.db.Put(receiptKey(sanitized.Campaign, sanitized.Donor), raw)
}

// GetAccount loads the account for addr, returning a zero-balance account for
// addresses that have never been written.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	acc := new(types.Account)
	if err := json.Unmarshal(raw, acc); err != nil {
		return nil, err
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc, nil
}

// PutAccount persists the account for addr.
func (m *Manager) PutAccount(addr []byte, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	if acc.Balance != nil && acc.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative account balance")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), raw)
}
