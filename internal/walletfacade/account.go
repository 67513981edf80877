package walletfacade

import (
	"fmt"

	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
)

// OpenedWallet bundles the material an Open/Create/Restore call derives so
// the caller can hand it straight to Config and build a Facade.
type OpenedWallet struct {
	Mnemonic string // only set by Create; empty on Restore/Unlock.
	Master   *keymgr.MasterKeys
	Keys     *keymgr.Manager
}

// ensurePools derives the lookahead pool of sub-addresses for every account
// a fresh wallet needs ready before it can recognize incoming outputs: the
// ordinary receiving account, the change account, and the reserved pool.
func ensurePools(keys *keymgr.Manager, lookahead uint64) error {
	if lookahead == 0 {
		lookahead = keymgr.DefaultLookahead
	}
	for _, account := range []int32{keymgr.AccountReceivingBase, keymgr.AccountChange, keymgr.AccountReservedPool} {
		if err := keys.EnsurePool(account, lookahead); err != nil {
			return fmt.Errorf("walletfacade: ensure pool for account %d: %w", account, err)
		}
	}
	return nil
}

// CreateWallet generates a fresh BIP-39 mnemonic, derives its master keys,
// persists the encrypted seed under name in ks, and returns the generated
// mnemonic so the caller can show it to the user exactly once — it is
// never stored in cleartext and cannot be recovered from the keystore file.
func CreateWallet(ks *keymgr.Keystore, adapter cryptoadapter.Adapter, name string, password []byte, lookahead uint64) (*OpenedWallet, error) {
	mnemonic, err := keymgr.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("walletfacade: generate mnemonic: %w", err)
	}
	return restoreFromMnemonic(ks, adapter, name, password, mnemonic, lookahead, true)
}

// RestoreWalletFromMnemonic recovers a wallet from a previously-generated
// mnemonic, re-deriving its master keys and re-persisting the encrypted
// seed under name (overwriting name if already present in ks).
func RestoreWalletFromMnemonic(ks *keymgr.Keystore, adapter cryptoadapter.Adapter, name string, password []byte, mnemonic string, lookahead uint64) (*OpenedWallet, error) {
	if !keymgr.ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("walletfacade: invalid mnemonic")
	}
	return restoreFromMnemonic(ks, adapter, name, password, mnemonic, lookahead, false)
}

func restoreFromMnemonic(ks *keymgr.Keystore, adapter cryptoadapter.Adapter, name string, password []byte, mnemonic string, lookahead uint64, isNew bool) (*OpenedWallet, error) {
	seed, err := keymgr.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("walletfacade: derive seed: %w", err)
	}

	master, err := keymgr.DeriveMasterKeys(adapter, seed)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: derive master keys: %w", err)
	}

	if err := ks.Create(name, seed, password, keymgr.DefaultParams()); err != nil {
		return nil, fmt.Errorf("walletfacade: save keystore: %w", err)
	}

	keys := keymgr.NewManager(adapter, master)
	if err := ensurePools(keys, lookahead); err != nil {
		return nil, err
	}
	if err := ks.SetLookahead(name, keymgr.AccountReceivingBase, lookahead); err != nil {
		return nil, fmt.Errorf("walletfacade: persist lookahead: %w", err)
	}

	result := &OpenedWallet{Master: master, Keys: keys}
	if isNew {
		result.Mnemonic = mnemonic
	}
	return result, nil
}

// UnlockWallet decrypts an existing wallet's seed with password and
// re-derives its master keys and sub-address pool. The pool is sized by the
// lookahead persisted for the receiving account, or keymgr.DefaultLookahead
// if none is set.
func UnlockWallet(ks *keymgr.Keystore, adapter cryptoadapter.Adapter, name string, password []byte) (*OpenedWallet, error) {
	seed, err := ks.Load(name, password)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: unlock: %w", err)
	}

	master, err := keymgr.DeriveMasterKeys(adapter, seed)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: derive master keys: %w", err)
	}

	lookahead, err := ks.GetLookahead(name, keymgr.AccountReceivingBase)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: read lookahead: %w", err)
	}

	keys := keymgr.NewManager(adapter, master)
	if err := ensurePools(keys, lookahead); err != nil {
		return nil, err
	}

	return &OpenedWallet{Master: master, Keys: keys}, nil
}
