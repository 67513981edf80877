package keymgr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// Coin selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = errors.New("no UTXOs available")
)

// FeePerInputOutput is the flat per-(input+2) fee unit from §4.G step 2:
// fee = (num_inputs + 2) * FeePerInputOutput, the "+2" covering the
// recipient and change outputs every transaction produces.
const FeePerInputOutput = 200_000

// UTXO represents an unspent confidential output owned by the wallet,
// tagged with the sub-address that can spend it.
type UTXO struct {
	OutputHash types.Hash
	Account    int32
	Address    uint64
	BlindingPK cryptoadapter.Point
	Value      uint64
	TokenID    *types.TokenID
}

// CoinSelection holds the result of coin selection.
type CoinSelection struct {
	Inputs []UTXO
	Total  uint64
	Fee    uint64
	Change uint64
}

// SelectCoins implements §4.G step 2's largest-first strategy: sort unspent
// outputs by value descending and accumulate until the running total covers
// the target amount plus the fee for the inputs accumulated so far. Only
// UTXOs matching tokenID (nil meaning the base asset) are considered.
func SelectCoins(utxos []UTXO, amount uint64, tokenID *types.TokenID) (*CoinSelection, error) {
	if amount == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	candidates := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Value == 0 {
			continue
		}
		if !sameToken(u.TokenID, tokenID) {
			continue
		}
		candidates = append(candidates, u)
	}
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Value > candidates[j].Value
	})

	var selected []UTXO
	var total uint64
	for _, u := range candidates {
		selected = append(selected, u)
		total += u.Value

		fee := uint64(len(selected)+2) * FeePerInputOutput
		if total >= amount+fee {
			return &CoinSelection{
				Inputs: selected,
				Total:  total,
				Fee:    fee,
				Change: total - amount - fee,
			}, nil
		}
	}

	fee := uint64(len(selected)+2) * FeePerInputOutput
	return nil, fmt.Errorf("%w: have %d, need %d (incl. fee %d)", ErrInsufficientFunds, totalValue(candidates), amount+fee, fee)
}

func sameToken(a, b *types.TokenID) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}

func totalValue(utxos []UTXO) uint64 {
	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}
