package types

import "math/big"

// Account is the ledger entry backing every principal the escrow engine
// touches: donors, creators and campaign vaults. Balances are kept as
// big integers in lamport-equivalent units.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}
