package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"crowdvault/core/types"
	"crowdvault/native/crowdfund"
	"crowdvault/storage"
)

func testCampaign(id byte) *crowdfund.Campaign {
	campaign := &crowdfund.Campaign{
		ID:             [32]byte{id},
		Creator:        [20]byte{0x10},
		TargetLamports: big.NewInt(1_000_000),
		StartTs:        100,
		EndTs:          200,
		TotalDonated:   big.NewInt(0),
		MilestoneCount: 1,
		Title:          "stored",
	}
	campaign.Vault = crowdfund.DeriveVaultAddress(campaign.ID)
	campaign.Milestones[0] = crowdfund.Milestone{Amount: big.NewInt(1_000_000), Description: "all"}
	return campaign
}

func TestManagerConfigRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	_, ok := manager.ConfigGet()
	require.False(t, ok)

	cfg := &crowdfund.SystemConfig{Authority: [20]byte{0x01}, DisputeSeconds: 3600}
	require.NoError(t, manager.ConfigPut(cfg))

	loaded, ok := manager.ConfigGet()
	require.True(t, ok)
	require.Equal(t, cfg, loaded)

	require.Error(t, manager.ConfigPut(nil))
}

func TestManagerCampaignRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	campaign := testCampaign(0x01)

	_, ok := manager.CampaignGet(campaign.ID)
	require.False(t, ok)

	require.NoError(t, manager.CampaignPut(campaign))
	loaded, ok := manager.CampaignGet(campaign.ID)
	require.True(t, ok)
	require.Equal(t, campaign.ID, loaded.ID)
	require.Zero(t, campaign.TargetLamports.Cmp(loaded.TargetLamports))
	require.Equal(t, campaign.Title, loaded.Title)

	// Mutating the loaded record must not leak into storage.
	loaded.TotalDonated = big.NewInt(42)
	reloaded, ok := manager.CampaignGet(campaign.ID)
	require.True(t, ok)
	require.Zero(t, reloaded.TotalDonated.Sign())

	// Invalid records are rejected before hitting the database.
	invalid := testCampaign(0x02)
	invalid.MilestoneCount = 0
	require.Error(t, manager.CampaignPut(invalid))
	_, ok = manager.CampaignGet(invalid.ID)
	require.False(t, ok)
}

func TestManagerCampaignList(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	list, err := manager.CampaignList()
	require.NoError(t, err)
	require.Empty(t, list)

	first := testCampaign(0x01)
	second := testCampaign(0x02)
	require.NoError(t, manager.CampaignPut(first))
	require.NoError(t, manager.CampaignPut(second))

	// Rewriting an existing campaign must not duplicate the index entry.
	first.TotalDonated = big.NewInt(500)
	require.NoError(t, manager.CampaignPut(first))

	list, err = manager.CampaignList()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)
	require.Equal(t, second.ID, list[1].ID)
	require.Zero(t, list[0].TotalDonated.Cmp(big.NewInt(500)))
}

func TestManagerReceiptRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	campaign := [32]byte{0x01}
	donor := [20]byte{0x20}

	_, ok := manager.ReceiptGet(campaign, donor)
	require.False(t, ok)

	receipt := &crowdfund.DonationReceipt{Campaign: campaign, Donor: donor, Lamports: big.NewInt(7)}
	require.NoError(t, manager.ReceiptPut(receipt))

	loaded, ok := manager.ReceiptGet(campaign, donor)
	require.True(t, ok)
	require.Zero(t, loaded.Lamports.Cmp(big.NewInt(7)))
	require.False(t, loaded.Refunded)

	// Receipts are keyed per (campaign, donor) pair.
	_, ok = manager.ReceiptGet([32]byte{0x02}, donor)
	require.False(t, ok)

	receipt.Lamports = big.NewInt(-1)
	require.Error(t, manager.ReceiptPut(receipt))
}

func TestManagerAccounts(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := []byte{0x30, 0x01}

	acc, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Sign())
	require.Zero(t, acc.Nonce)

	acc.Nonce = 3
	acc.Balance = big.NewInt(1_000)
	require.NoError(t, manager.PutAccount(addr, acc))

	loaded, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.Nonce)
	require.Zero(t, loaded.Balance.Cmp(big.NewInt(1_000)))

	require.Error(t, manager.PutAccount(addr, nil))
	require.Error(t, manager.PutAccount(addr, &types.Account{Balance: big.NewInt(-1)}))
}

func TestManagerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	manager := NewManager(db)
	campaign := testCampaign(0x05)
	require.NoError(t, manager.CampaignPut(campaign))
	require.NoError(t, manager.ConfigPut(&crowdfund.SystemConfig{Authority: [20]byte{0x01}, DisputeSeconds: 60}))
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	manager = NewManager(db)

	loaded, ok := manager.CampaignGet(campaign.ID)
	require.True(t, ok)
	require.Equal(t, campaign.ID, loaded.ID)
	cfg, ok := manager.ConfigGet()
	require.True(t, ok)
	require.Equal(t, int64(60), cfg.DisputeSeconds)
	list, err := manager.CampaignList()
	require.NoError(t, err)
	require.Len(t, list, 1)
}
