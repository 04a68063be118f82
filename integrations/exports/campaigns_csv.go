package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"

	"crowdvault/native/crowdfund"
)

// CampaignsCSV builds a CSV export for the supplied campaigns and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func CampaignsCSV(campaigns []*crowdfund.Campaign) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"id", "creator", "vault", "target_lamports", "total_donated", "start_ts", "end_ts", "milestones", "last_release_ts", "locked", "title"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, campaign := range campaigns {
		if campaign == nil {
			continue
		}
		record := []string{
			"0x" + hex.EncodeToString(campaign.ID[:]),
			"0x" + hex.EncodeToString(campaign.Creator[:]),
			"0x" + hex.EncodeToString(campaign.Vault[:]),
			formatLamports(campaign.TargetLamports),
			formatLamports(campaign.TotalDonated),
			fmt.Sprintf("%d", campaign.StartTs),
			fmt.Sprintf("%d", campaign.EndTs),
			fmt.Sprintf("%d", campaign.MilestoneCount),
			fmt.Sprintf("%d", campaign.LastReleaseTs),
			strconv.FormatBool(campaign.Locked),
			campaign.Title,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
