package keymgr

import (
	"fmt"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
)

// Fixed child-index tree, per §4.A. This is wire-observable and must match
// exactly: seed -> (childIndex) -> child; child -> (txKeyIndex) -> tx_key;
// child -> (blindingKeyIndex) -> blinding_key; child -> (tokenKeyIndex) ->
// token_key; tx_key -> (viewKeyIndex) -> view_key; tx_key -> (spendKeyIndex)
// -> spend_key. Unlike BIP-44, there is no account/change/index branching
// here — account and sub-address selection happens entirely within
// cryptoadapter.Adapter.SubAddress, not in this tree.
const (
	childIndex       = 130
	txKeyChildIndex  = 0
	blindingChildIdx = 1
	tokenChildIdx    = 2
	viewKeyChildIdx  = 0
	spendKeyChildIdx = 1
)

// MasterKeys holds the wallet's root key material, derived once from the
// seed and held for the lifetime of an unlocked wallet.
type MasterKeys struct {
	TxKey       cryptoadapter.Scalar
	BlindingKey cryptoadapter.Scalar
	TokenKey    cryptoadapter.Scalar
	ViewKey     cryptoadapter.Scalar
	SpendKey    cryptoadapter.Scalar
}

// DeriveMasterKeys walks the fixed tree from seed to produce the five keys
// the rest of the wallet needs: the view/spend pair for ownership detection
// and spending, plus the blinding and token keys used by the crypto adapter
// for output construction.
func DeriveMasterKeys(adapter cryptoadapter.Adapter, seed []byte) (*MasterKeys, error) {
	masterSK, err := adapter.DeriveMasterSK(seed)
	if err != nil {
		return nil, fmt.Errorf("derive master sk: %w", err)
	}

	child, err := adapter.DeriveChildSK(masterSK, childIndex)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", childIndex, err)
	}

	txKey, err := adapter.DeriveChildSK(child, txKeyChildIndex)
	if err != nil {
		return nil, fmt.Errorf("derive tx key: %w", err)
	}
	blindingKey, err := adapter.DeriveChildSK(child, blindingChildIdx)
	if err != nil {
		return nil, fmt.Errorf("derive blinding key: %w", err)
	}
	tokenKey, err := adapter.DeriveChildSK(child, tokenChildIdx)
	if err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}

	viewKey, err := adapter.DeriveChildSK(txKey, viewKeyChildIdx)
	if err != nil {
		return nil, fmt.Errorf("derive view key: %w", err)
	}
	spendKey, err := adapter.DeriveChildSK(txKey, spendKeyChildIdx)
	if err != nil {
		return nil, fmt.Errorf("derive spend key: %w", err)
	}

	return &MasterKeys{
		TxKey:       txKey,
		BlindingKey: blindingKey,
		TokenKey:    tokenKey,
		ViewKey:     viewKey,
		SpendKey:    spendKey,
	}, nil
}
