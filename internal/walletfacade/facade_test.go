package walletfacade

import (
	"context"
	"testing"

	"github.com/klingon-tech/lightwalletd/internal/fetch"
	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	"github.com/klingon-tech/lightwalletd/internal/storage"
	"github.com/klingon-tech/lightwalletd/pkg/chainparams"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

const testHRP = "tkgx"

// fakeProvider is a minimal fetch.Provider double: only Broadcast is
// exercised by send_transaction, every other method is unreachable from
// this package's tests.
type fakeProvider struct {
	broadcast []byte
}

func (p *fakeProvider) Connect(ctx context.Context) error { return nil }
func (p *fakeProvider) Close() error                       { return nil }
func (p *fakeProvider) ChainTipHeight(ctx context.Context) (uint64, error) {
	return 0, nil
}
func (p *fakeProvider) BlockHeader(ctx context.Context, height uint64) ([]byte, error) {
	return nil, nil
}
func (p *fakeProvider) BlockHeaders(ctx context.Context, start uint64, count uint32) ([][]byte, error) {
	return nil, nil
}
func (p *fakeProvider) BlockTxKeysRange(ctx context.Context, start uint64) (fetch.TxKeysRange, error) {
	return fetch.TxKeysRange{NextHeight: start}, nil
}
func (p *fakeProvider) TxOutputByHash(ctx context.Context, outputHash types.Hash) ([]byte, error) {
	return nil, nil
}
func (p *fakeProvider) Broadcast(ctx context.Context, rawTx []byte) (types.Hash, error) {
	p.broadcast = rawTx
	return types.Hash{0xEE}, nil
}
func (p *fakeProvider) SubscribeHeaders(ctx context.Context, cb func(uint64, []byte)) error {
	return nil
}

func newTestWallet(t *testing.T, seedByte byte) (cryptoadapter.Adapter, *keymgr.Manager) {
	t.Helper()
	adapter := cryptoadapter.New()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	keys, err := keymgr.DeriveMasterKeys(adapter, seed)
	if err != nil {
		t.Fatalf("DeriveMasterKeys: %v", err)
	}
	mgr := keymgr.NewManager(adapter, keys)
	if err := mgr.EnsurePool(keymgr.AccountReceivingBase, 5); err != nil {
		t.Fatalf("EnsurePool base: %v", err)
	}
	if err := mgr.EnsurePool(keymgr.AccountChange, 5); err != nil {
		t.Fatalf("EnsurePool change: %v", err)
	}
	return adapter, mgr
}

func newTestStoreWithUnspent(t *testing.T, sub keymgr.SubAddress, value uint64) *storage.WalletStore {
	t.Helper()
	store, err := storage.NewWalletStore(storage.NewMemory())
	if err != nil {
		t.Fatalf("NewWalletStore: %v", err)
	}
	rec := storage.OutputRecord{
		OutputHash: types.Hash{0x01},
		TxHash:     types.Hash{0x02},
		Account:    sub.Account,
		Address:    sub.Address,
		Value:      value,
		BlindingPK: sub.BlindingPK,
		State:      storage.StateConfirmedUnspent,
		Height:     10,
	}
	if err := store.SaveBlock(10, types.Hash{0x03}, []storage.OutputRecord{rec}, nil); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}
	return store
}

func TestSendTransaction_ProducesChangeAndBroadcasts(t *testing.T) {
	adapter, senderKeys := newTestWallet(t, 0x20)
	senderSub, err := senderKeys.DeriveSubAddress(keymgr.AccountReceivingBase, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}
	store := newTestStoreWithUnspent(t, senderSub, 10_000_000_000)

	_, recipientKeys := newTestWallet(t, 0x21)
	recipientSub, err := recipientKeys.DeriveSubAddress(keymgr.AccountReceivingBase, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}
	recipientDest, err := recipientKeys.DestinationFor(recipientSub)
	if err != nil {
		t.Fatalf("DestinationFor: %v", err)
	}
	address := keymgr.EncodeAddress(testHRP, recipientDest)

	provider := &fakeProvider{}
	f := New(Config{
		Store:    store,
		Keys:     senderKeys,
		Provider: provider,
		Adapter:  adapter,
		Params:   chainparams.Params{AddressHRP: testHRP},
	})

	res, err := f.SendTransaction(context.Background(), SendParams{
		Address: address,
		Amount:  1_000_000_000,
	})
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}

	wantFee := uint64(1+2) * keymgr.FeePerInputOutput
	if res.Fee != wantFee {
		t.Errorf("fee = %d, want %d", res.Fee, wantFee)
	}
	if res.InputCount != 1 {
		t.Errorf("input count = %d, want 1", res.InputCount)
	}
	if res.OutputCount != 2 {
		t.Errorf("output count = %d, want 2 (destination + change)", res.OutputCount)
	}
	if len(provider.broadcast) == 0 {
		t.Error("raw tx was never broadcast")
	}

	confirmed, unconfirmed, err := store.Balance(keymgr.AccountReceivingBase, nil)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if confirmed != 0 {
		t.Errorf("confirmed balance = %d, want 0 (spent input no longer unspent)", confirmed)
	}
	_ = unconfirmed

	changeConfirmed, changeUnconfirmed, err := store.Balance(keymgr.AccountChange, nil)
	if err != nil {
		t.Fatalf("Balance (change): %v", err)
	}
	if changeConfirmed != 0 || changeUnconfirmed == 0 {
		t.Errorf("change balance = confirmed %d unconfirmed %d, want a pending change output", changeConfirmed, changeUnconfirmed)
	}
}

func TestSendTransaction_InsufficientFunds(t *testing.T) {
	adapter, senderKeys := newTestWallet(t, 0x22)
	senderSub, err := senderKeys.DeriveSubAddress(keymgr.AccountReceivingBase, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}
	store := newTestStoreWithUnspent(t, senderSub, 1_000)

	_, recipientKeys := newTestWallet(t, 0x23)
	recipientSub, _ := recipientKeys.DeriveSubAddress(keymgr.AccountReceivingBase, 0)
	recipientDest, _ := recipientKeys.DestinationFor(recipientSub)
	address := keymgr.EncodeAddress(testHRP, recipientDest)

	f := New(Config{
		Store:    store,
		Keys:     senderKeys,
		Provider: &fakeProvider{},
		Adapter:  adapter,
		Params:   chainparams.Params{AddressHRP: testHRP},
	})

	_, err = f.SendTransaction(context.Background(), SendParams{Address: address, Amount: 1_000_000_000})
	if err == nil {
		t.Fatal("expected an insufficient-funds error")
	}
}

func TestBalanceAndHistory(t *testing.T) {
	_, keys := newTestWallet(t, 0x24)
	sub, err := keys.DeriveSubAddress(keymgr.AccountReceivingBase, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}
	store := newTestStoreWithUnspent(t, sub, 5_000_000)

	f := New(Config{
		Store:    store,
		Keys:     keys,
		Provider: &fakeProvider{},
		Adapter:  cryptoadapter.New(),
		Params:   chainparams.Params{AddressHRP: testHRP},
	})

	confirmed, _, err := f.Balance(keymgr.AccountReceivingBase, nil)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if confirmed != 5_000_000 {
		t.Errorf("confirmed = %d, want 5_000_000", confirmed)
	}

	hist, err := f.History(keymgr.AccountReceivingBase, nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].Spent {
		t.Errorf("history = %+v, want one unspent entry", hist)
	}
}
