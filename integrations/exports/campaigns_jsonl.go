package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"crowdvault/native/crowdfund"
)

// CampaignsJSONL builds a JSON Lines export for the supplied campaigns and
// returns the serialised payload alongside a checksum. Each line additionally
// carries the per-milestone breakdown that the CSV export flattens away.
func CampaignsJSONL(campaigns []*crowdfund.Campaign) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, campaign := range campaigns {
		if campaign == nil {
			continue
		}
		milestones := make([]map[string]interface{}, 0, int(campaign.MilestoneCount))
		for i := 0; i < int(campaign.MilestoneCount); i++ {
			milestone := campaign.Milestones[i]
			milestones = append(milestones, map[string]interface{}{
				"amount":      formatLamports(milestone.Amount),
				"description": milestone.Description,
				"released":    milestone.Released,
				"released_at": milestone.ReleasedAt,
			})
		}
		payload := map[string]interface{}{
			"id":              "0x" + hex.EncodeToString(campaign.ID[:]),
			"creator":         "0x" + hex.EncodeToString(campaign.Creator[:]),
			"vault":           "0x" + hex.EncodeToString(campaign.Vault[:]),
			"target_lamports": formatLamports(campaign.TargetLamports),
			"total_donated":   formatLamports(campaign.TotalDonated),
			"start_ts":        campaign.StartTs,
			"end_ts":          campaign.EndTs,
			"last_release_ts": campaign.LastReleaseTs,
			"locked":          campaign.Locked,
			"title":           campaign.Title,
			"milestones":      milestones,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func formatLamports(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
