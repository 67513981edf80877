package mempool

import (
	"bytes"
	"testing"

	"github.com/klingon-tech/lightwalletd/internal/keymgr"
	"github.com/klingon-tech/lightwalletd/internal/storage"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
	"github.com/klingon-tech/lightwalletd/pkg/walletwire"
)

func newTestWallet(t *testing.T, seedByte byte) (cryptoadapter.Adapter, *keymgr.MasterKeys, *keymgr.Manager) {
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
	if err := mgr.EnsurePool(0, 5); err != nil {
		t.Fatalf("EnsurePool: %v", err)
	}
	return adapter, keys, mgr
}

// buildRawOutput matches the §4.E wire layout with an empty (Vs count ==
// 0) range-proof body, same shape as walletwire's own test fixtures.
func buildRawOutput(blinding, spending, ephemeral cryptoadapter.Point, viewTag uint16, tokenID *types.TokenID) []byte {
	var buf bytes.Buffer

	flags := uint64(walletwire.FlagBLSCTMarker)
	if tokenID != nil {
		flags |= walletwire.FlagTokenMarker
	}

	var v [8]byte
	putU64LE(v[:], walletwire.MaxAmount)
	buf.Write(v[:])
	var f [8]byte
	putU64LE(f[:], flags)
	buf.Write(f[:])

	buf.Write(walletwire.WriteVarint(0)) // empty script.
	buf.Write(walletwire.WriteVarint(0)) // range proof: Vs count = 0.

	buf.Write(spending[:])
	buf.Write(blinding[:])
	buf.Write(ephemeral[:])

	var vt [2]byte
	vt[0] = byte(viewTag)
	vt[1] = byte(viewTag >> 8)
	buf.Write(vt[:])

	if tokenID != nil {
		var tid [64]byte
		copy(tid[:], tokenID[:])
		buf.Write(tid[:])
	}
	return buf.Bytes()
}

func putU64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// buildRawTx hand-assembles a serialized transaction: version, inputs,
// outputs, locktime, matching §4.D.2 step 3's layout with no witness
// marker and no aggregated-signature tail.
func buildRawTx(version uint32, inputs []types.Hash, outputs [][]byte) []byte {
	var buf bytes.Buffer

	var v [4]byte
	v[0], v[1], v[2], v[3] = byte(version), byte(version>>8), byte(version>>16), byte(version>>24)
	buf.Write(v[:])

	buf.Write(walletwire.WriteVarint(uint64(len(inputs))))
	for _, prevHash := range inputs {
		buf.Write(prevHash[:])
		buf.Write(walletwire.WriteVarint(0)) // empty script-sig.
		buf.Write([]byte{0, 0, 0, 0})        // sequence.
	}

	buf.Write(walletwire.WriteVarint(uint64(len(outputs))))
	for _, o := range outputs {
		buf.Write(o)
	}

	buf.Write([]byte{0, 0, 0, 0}) // locktime.
	return buf.Bytes()
}

func newTestStore(t *testing.T) *storage.WalletStore {
	t.Helper()
	store, err := storage.NewWalletStore(storage.NewMemory())
	if err != nil {
		t.Fatalf("NewWalletStore: %v", err)
	}
	return store
}

func TestObserve_OwnedOutputStoredAsPendingUnspent(t *testing.T) {
	adapter, keys, mgr := newTestWallet(t, 0x10)
	sub, err := mgr.DeriveSubAddress(0, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}

	tag, err := adapter.ViewTag(sub.BlindingPK, keys.ViewKey)
	if err != nil {
		t.Fatalf("ViewTag: %v", err)
	}
	out := buildRawOutput(sub.BlindingPK, sub.SpendingPK, sub.BlindingPK, tag, nil)
	rawTx := buildRawTx(1, nil, [][]byte{out})

	store := newTestStore(t)
	h := New(Config{Store: store, Keys: mgr, Adapter: adapter})

	txHash, err := h.Observe(rawTx)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	outputHash := syntheticOutputHash(txHash, 0)
	rec, ok, err := store.GetOutput(outputHash)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if !ok {
		t.Fatal("owned mempool output was not recorded")
	}
	if rec.State != storage.StatePendingUnspent {
		t.Errorf("state = %v, want StatePendingUnspent", rec.State)
	}
	if rec.Height != 0 {
		t.Errorf("height = %d, want 0 (unconfirmed)", rec.Height)
	}
	if rec.Account != sub.Account || rec.Address != sub.Address {
		t.Errorf("account/address = %d/%d, want %d/%d", rec.Account, rec.Address, sub.Account, sub.Address)
	}
}

func TestObserve_ForeignOutputIgnored(t *testing.T) {
	_, _, owner := newTestWallet(t, 0x11)
	foreignAdapter, foreignKeys, foreignMgr := newTestWallet(t, 0x12)

	foreignSub, err := foreignMgr.DeriveSubAddress(0, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}
	tag, err := foreignAdapter.ViewTag(foreignSub.BlindingPK, foreignKeys.ViewKey)
	if err != nil {
		t.Fatalf("ViewTag: %v", err)
	}
	out := buildRawOutput(foreignSub.BlindingPK, foreignSub.SpendingPK, foreignSub.BlindingPK, tag, nil)
	rawTx := buildRawTx(1, nil, [][]byte{out})

	store := newTestStore(t)
	h := New(Config{Store: store, Keys: owner, Adapter: cryptoadapter.New()})

	txHash, err := h.Observe(rawTx)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	if _, ok, _ := store.GetOutput(syntheticOutputHash(txHash, 0)); ok {
		t.Error("foreign output should not be recorded by owner's handler")
	}
}

func TestObserve_SpendMarksConfirmedOutputPending(t *testing.T) {
	adapter, _, mgr := newTestWallet(t, 0x13)
	store := newTestStore(t)

	prevHash := types.Hash{0xD1}
	confirmed := storage.OutputRecord{
		OutputHash: prevHash,
		TxHash:     types.Hash{0x01},
		Account:    0,
		Address:    0,
		Value:      1000,
		State:      storage.StateConfirmedUnspent,
		Height:     1,
	}
	if err := store.SaveBlock(1, types.Hash{0xAA}, []storage.OutputRecord{confirmed}, nil); err != nil {
		t.Fatalf("seed SaveBlock: %v", err)
	}

	rawTx := buildRawTx(1, []types.Hash{prevHash}, nil)

	h := New(Config{Store: store, Keys: mgr, Adapter: adapter})
	txHash, err := h.Observe(rawTx)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	rec, ok, err := store.GetOutput(prevHash)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if !ok || rec.State != storage.StatePendingSpent {
		t.Errorf("state = %v (ok=%v), want StatePendingSpent", rec.State, ok)
	}

	old, hasOld, err := store.GetMempoolSpentTxHash(prevHash)
	if err != nil {
		t.Fatalf("GetMempoolSpentTxHash: %v", err)
	}
	if !hasOld || old != txHash {
		t.Errorf("mempool spend tx = %s (has=%v), want %s", old, hasOld, txHash)
	}
}

func TestObserve_UnknownInputIsIgnored(t *testing.T) {
	adapter, _, mgr := newTestWallet(t, 0x14)
	store := newTestStore(t)

	rawTx := buildRawTx(1, []types.Hash{{0xFF}}, nil)

	h := New(Config{Store: store, Keys: mgr, Adapter: adapter})
	if _, err := h.Observe(rawTx); err != nil {
		t.Fatalf("Observe: %v", err)
	}
}
