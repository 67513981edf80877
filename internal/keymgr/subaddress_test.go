package keymgr

import (
	"testing"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	adapter := cryptoadapter.New()
	keys, err := DeriveMasterKeys(adapter, testSeed(t))
	if err != nil {
		t.Fatalf("DeriveMasterKeys: %v", err)
	}
	return NewManager(adapter, keys)
}

func TestDeriveSubAddress_Deterministic(t *testing.T) {
	m := testManager(t)

	a, err := m.DeriveSubAddress(0, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}
	b, err := m.DeriveSubAddress(0, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}
	if a.HashID != b.HashID {
		t.Error("re-deriving the same leaf produced a different hash id")
	}
}

func TestDeriveSubAddress_DistinctAddresses(t *testing.T) {
	m := testManager(t)

	a0, err := m.DeriveSubAddress(0, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress(0,0): %v", err)
	}
	a1, err := m.DeriveSubAddress(0, 1)
	if err != nil {
		t.Fatalf("DeriveSubAddress(0,1): %v", err)
	}
	change0, err := m.DeriveSubAddress(AccountChange, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress(change,0): %v", err)
	}

	if a0.HashID == a1.HashID {
		t.Error("different addresses within an account collided")
	}
	if a0.HashID == change0.HashID {
		t.Error("receiving and change accounts collided")
	}
}

func TestEnsurePool_RegistersAllLeaves(t *testing.T) {
	m := testManager(t)

	if err := m.EnsurePool(0, 5); err != nil {
		t.Fatalf("EnsurePool: %v", err)
	}
	if len(m.byHashID) != 5 {
		t.Fatalf("pool has %d entries, want 5", len(m.byHashID))
	}

	// Re-running with a smaller lookahead must not shrink the pool.
	if err := m.EnsurePool(0, 2); err != nil {
		t.Fatalf("EnsurePool shrink: %v", err)
	}
	if len(m.byHashID) != 5 {
		t.Errorf("pool shrank to %d entries, want 5", len(m.byHashID))
	}
}

func TestIsMineByKeys_MatchesOwnOutput(t *testing.T) {
	m := testManager(t)
	if err := m.EnsurePool(0, 3); err != nil {
		t.Fatalf("EnsurePool: %v", err)
	}

	sub, err := m.DeriveSubAddress(0, 1)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}

	adapter := cryptoadapter.New()
	tag, err := adapter.ViewTag(sub.BlindingPK, m.keys.ViewKey)
	if err != nil {
		t.Fatalf("ViewTag: %v", err)
	}

	found, ok, err := m.IsMineByKeys(sub.BlindingPK, sub.SpendingPK, tag)
	if err != nil {
		t.Fatalf("IsMineByKeys: %v", err)
	}
	if !ok {
		t.Fatal("expected output to be recognized as ours")
	}
	if found.Account != 0 || found.Address != 1 {
		t.Errorf("matched (account=%d, address=%d), want (0, 1)", found.Account, found.Address)
	}
}

func TestIsMineByKeys_RejectsWrongViewTag(t *testing.T) {
	m := testManager(t)
	sub, err := m.DeriveSubAddress(0, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}

	_, ok, err := m.IsMineByKeys(sub.BlindingPK, sub.SpendingPK, 0xFFFF)
	if err != nil {
		t.Fatalf("IsMineByKeys: %v", err)
	}
	if ok {
		t.Error("output with wrong view tag should not match")
	}
}

func TestIsMineByKeys_RejectsForeignOutput(t *testing.T) {
	m := testManager(t)

	otherAdapter := cryptoadapter.New()
	otherSeed := testSeed(t)
	otherSeed[0] ^= 0xff
	otherKeys, err := DeriveMasterKeys(otherAdapter, otherSeed)
	if err != nil {
		t.Fatalf("DeriveMasterKeys: %v", err)
	}
	other := NewManager(otherAdapter, otherKeys)
	foreign, err := other.DeriveSubAddress(0, 0)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}

	tag, err := otherAdapter.ViewTag(foreign.BlindingPK, otherKeys.ViewKey)
	if err != nil {
		t.Fatalf("ViewTag: %v", err)
	}

	_, ok, err := m.IsMineByKeys(foreign.BlindingPK, foreign.SpendingPK, tag)
	if err != nil {
		t.Fatalf("IsMineByKeys: %v", err)
	}
	if ok {
		t.Error("foreign output should not match this wallet")
	}
}

func TestPrivateSpendingKey_MatchesSpendingPK(t *testing.T) {
	m := testManager(t)
	adapter := cryptoadapter.New()

	sub, err := m.DeriveSubAddress(0, 7)
	if err != nil {
		t.Fatalf("DeriveSubAddress: %v", err)
	}

	sk, err := m.PrivateSpendingKey(sub.BlindingPK, 0, 7)
	if err != nil {
		t.Fatalf("PrivateSpendingKey: %v", err)
	}
	pk, err := adapter.SKToPK(sk)
	if err != nil {
		t.Fatalf("SKToPK: %v", err)
	}
	if pk != sub.SpendingPK {
		t.Error("private spending key does not correspond to the derived spending public key")
	}
}
