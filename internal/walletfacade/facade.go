// Package walletfacade implements §4.G: the wallet-level operations built
// on top of the lower layers — key management, storage, the fetch
// provider, the sync engine, and the mempool handler — composed into the
// small set of operations a caller (a CLI or an RPC front end) actually
// invokes: open/create/restore, balance and UTXO listing, send_transaction,
// background sync, and transaction history.
package walletfacade

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	"github.com/klingon-tech/lightwalletd/internal/log"
	"github.com/klingon-tech/lightwalletd/internal/mempool"
	"github.com/klingon-tech/lightwalletd/internal/storage"
	"github.com/klingon-tech/lightwalletd/internal/syncengine"
	"github.com/klingon-tech/lightwalletd/pkg/chainparams"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// Config wires a Facade to its collaborators. Store, Keys, Provider and
// Params are required; Adapter defaults to cryptoadapter.New().
type Config struct {
	Store    *storage.WalletStore
	Keys     *keymgr.Manager
	Provider fetch.Provider
	Adapter  cryptoadapter.Adapter
	Params   chainparams.Params

	// SyncConfig carries the §4.F engine tuning knobs (VerifyHashes,
	// StopOnReorg, SaveInterval). Provider/Store/Keys/Adapter are
	// populated from this Config's own fields automatically.
	SyncConfig syncengine.Config
}

// Facade is the composed wallet: everything a caller needs to receive,
// view, and spend funds through one object.
type Facade struct {
	store    *storage.WalletStore
	keys     *keymgr.Manager
	provider fetch.Provider
	adapter  cryptoadapter.Adapter
	params   chainparams.Params
	engine   *syncengine.Engine
	mempool  *mempool.Handler
}

// New assembles a Facade from already-opened collaborators. Opening the
// keystore, deriving master keys, and building the sub-address pool is the
// caller's job (see Create/Restore/Unlock in account.go) since it differs
// between a brand-new wallet and one being restored from a mnemonic.
func New(cfg Config) *Facade {
	adapter := cfg.Adapter
	if adapter == nil {
		adapter = cryptoadapter.New()
	}

	syncCfg := cfg.SyncConfig
	syncCfg.Provider = cfg.Provider
	syncCfg.Store = cfg.Store
	syncCfg.Keys = cfg.Keys
	syncCfg.Adapter = adapter

	return &Facade{
		store:    cfg.Store,
		keys:     cfg.Keys,
		provider: cfg.Provider,
		adapter:  adapter,
		params:   cfg.Params,
		engine:   syncengine.New(syncCfg),
		mempool:  mempool.New(mempool.Config{Store: cfg.Store, Keys: cfg.Keys, Adapter: adapter}),
	}
}

// Balance reports confirmed and unconfirmed totals for account and
// tokenID (nil meaning the base asset).
func (f *Facade) Balance(account int32, tokenID *types.TokenID) (confirmed, unconfirmed uint64, err error) {
	return f.store.Balance(account, tokenID)
}

// ListUnspent returns every spendable output owned by account, for display
// or for a caller building its own coin selection.
func (f *Facade) ListUnspent(account int32, tokenID *types.TokenID) ([]storage.OutputRecord, error) {
	return f.store.ListUnspent(account, tokenID)
}

// HistoryEntry is one line of a wallet's transaction history: either a
// receive (Spent == false) or the later spend of a previously-received
// output (Spent == true), surfaced from the same OutputRecord.
type HistoryEntry struct {
	OutputHash  types.Hash
	TxHash      types.Hash
	Height      uint64
	Value       uint64
	TokenID     *types.TokenID
	Spent       bool
	SpentTxHash types.Hash
	SpentHeight uint64
	Memo        string
}

// History returns every output account has ever received, each annotated
// with its eventual spend if one has occurred — a supplement the sync-only
// spec doesn't itself name, built from the same OutputRecord rows the
// balance and coin-selection queries already use.
func (f *Facade) History(account int32, tokenID *types.TokenID) ([]HistoryEntry, error) {
	recs, err := f.store.ListAllOutputs(account, tokenID)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, HistoryEntry{
			OutputHash:  r.OutputHash,
			TxHash:      r.TxHash,
			Height:      r.Height,
			Value:       r.Value,
			TokenID:     r.TokenID,
			Spent:       r.State == storage.StatePendingSpent || r.State == storage.StateConfirmedSpent,
			SpentTxHash: r.SpentTxHash,
			SpentHeight: r.SpentHeight,
			Memo:        r.Memo,
		})
	}
	return entries, nil
}

// BackgroundSync starts the §4.F reorg-aware sync loop in the background,
// delegating directly to the sync engine; cb's hooks surface progress,
// new blocks, balance changes, and non-fatal errors to the caller.
func (f *Facade) BackgroundSync(ctx context.Context, pollInterval time.Duration, cb *syncengine.Callbacks) {
	f.engine.BackgroundSync(ctx, pollInterval, cb)
}

// RunOnce drives a single synchronous sync pass, for callers (tests, a
// "sync now" CLI command) that don't want the background poll loop.
func (f *Facade) RunOnce(ctx context.Context, cb *syncengine.Callbacks) (syncengine.Progress, error) {
	return f.engine.RunOnce(ctx, cb)
}

// SendResult is §4.G step 9's return value.
type SendResult struct {
	TxID        types.Hash
	RawTx       []byte
	Fee         uint64
	InputCount  int
	OutputCount int
}

// SendParams is §4.G's input.
type SendParams struct {
	Address               string
	Amount                uint64
	Memo                  string
	SubtractFeeFromAmount bool
	TokenID               *types.TokenID
}

// SendTransaction implements §4.G's send_transaction algorithm end to end:
// address decode, largest-first coin selection, input/output construction,
// build_ctx, broadcast, and local mempool observation of the just-built tx.
func (f *Facade) SendTransaction(ctx context.Context, p SendParams) (*SendResult, error) {
	dest, err := keymgr.DecodeAddress(f.params.AddressHRP, p.Address)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: decode address: %w", err)
	}

	spendable, err := f.store.ListUnspent(keymgr.AccountReceivingBase, p.TokenID)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: list unspent: %w", err)
	}
	reserve, err := f.store.ListUnspent(keymgr.AccountReservedPool, p.TokenID)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: list unspent (reserved): %w", err)
	}
	utxos := toUTXOs(spendable, reserve)

	// SelectCoins always converges on amount+fee; when subtracting the fee
	// from amount instead of adding it on top, that is a superset of what's
	// strictly needed (it may pull in one extra input at the margin) but
	// never under-selects, and send_amount is corrected for the fee below
	// once the chosen input count (and so the exact fee) is known.
	sel, err := keymgr.SelectCoins(utxos, p.Amount, p.TokenID)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: select coins: %w", err)
	}

	sendAmount := p.Amount
	fee := sel.Fee
	if p.SubtractFeeFromAmount {
		if fee >= sendAmount {
			return nil, fmt.Errorf("walletfacade: %w: fee %d exceeds amount %d", keymgr.ErrInsufficientFunds, fee, sendAmount)
		}
		sendAmount -= fee
	}
	if sel.Total < sendAmount+fee {
		return nil, fmt.Errorf("walletfacade: %w", keymgr.ErrInsufficientFunds)
	}
	changeAmount := sel.Total - sendAmount - fee

	inputs := make([]cryptoadapter.TxInput, 0, len(sel.Inputs))
	for _, u := range sel.Inputs {
		sk, err := f.keys.PrivateSpendingKey(u.BlindingPK, u.Account, u.Address)
		if err != nil {
			return nil, fmt.Errorf("walletfacade: derive spending key for %s: %w", u.OutputHash, err)
		}
		inputs = append(inputs, cryptoadapter.TxInput{
			OutputHash: u.OutputHash,
			SpendingSK: sk,
			Amount:     u.Value,
			TokenID:    u.TokenID,
		})
	}

	outputs := []cryptoadapter.TxOutput{
		{
			DestViewPK:     dest.ViewPK,
			DestBlindingPK: dest.BlindingPK,
			DestSpendingPK: dest.SpendingPK,
			Amount:         sendAmount,
			Memo:           p.Memo,
			TokenID:        p.TokenID,
		},
	}
	if changeAmount > 0 {
		changeSub, err := f.keys.DeriveSubAddress(keymgr.AccountChange, 0)
		if err != nil {
			return nil, fmt.Errorf("walletfacade: derive change address: %w", err)
		}
		changeDest, err := f.keys.DestinationFor(changeSub)
		if err != nil {
			return nil, fmt.Errorf("walletfacade: change destination: %w", err)
		}
		outputs = append(outputs, cryptoadapter.TxOutput{
			DestViewPK:     changeDest.ViewPK,
			DestBlindingPK: changeDest.BlindingPK,
			DestSpendingPK: changeDest.SpendingPK,
			Amount:         changeAmount,
			TokenID:        p.TokenID,
		})
	}

	rawHex, err := f.adapter.BuildCtx(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: %w: %v", cryptoadapter.ErrTxBuildFailed, err)
	}
	rawTx, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: %w: decode built tx: %v", cryptoadapter.ErrTxBuildFailed, err)
	}

	txID, err := f.provider.Broadcast(ctx, rawTx)
	if err != nil {
		return nil, fmt.Errorf("walletfacade: broadcast: %w", err)
	}

	if observedID, err := f.mempool.Observe(rawTx); err != nil {
		log.Wallet.Warn().Err(err).Str("tx", txID.String()).Msg("mempool observation of own broadcast tx failed")
	} else {
		txID = observedID
	}

	return &SendResult{
		TxID:        txID,
		RawTx:       rawTx,
		Fee:         fee,
		InputCount:  len(inputs),
		OutputCount: len(outputs),
	}, nil
}

// toUTXOs flattens one or more OutputRecord slices into keymgr.UTXO values
// SelectCoins can rank; the facade draws its selection pool from the
// ordinary receiving account plus the reserved pool (§3's account model),
// never from the change account, which only ever receives, not spends.
func toUTXOs(sets ...[]storage.OutputRecord) []keymgr.UTXO {
	var out []keymgr.UTXO
	for _, set := range sets {
		for _, r := range set {
			out = append(out, keymgr.UTXO{
				OutputHash: r.OutputHash,
				Account:    r.Account,
				Address:    r.Address,
				BlindingPK: r.BlindingPK,
				Value:      r.Value,
				TokenID:    r.TokenID,
			})
		}
	}
	return out
}
