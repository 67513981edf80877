package keymgr

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func fastParams() EncryptionParams {
	return EncryptionParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}
}

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	return ks
}

func testSeedBytes(t *testing.T) []byte {
	t.Helper()
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

func TestKeystore_CreateAndLoad(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	password := []byte("test-password")

	if err := ks.Create("mywallet", seed, password, fastParams()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	loaded, err := ks.Load("mywallet", password)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("loaded seed does not match original")
	}
}

func TestKeystore_CreateDuplicate(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	if err := ks.Create("dup", seed, []byte("pass"), fastParams()); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	if err := ks.Create("dup", seed, []byte("pass"), fastParams()); err == nil {
		t.Error("second Create() should fail for duplicate name")
	}
}

func TestKeystore_LoadWrongPassword(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("wallet", seed, []byte("correct"), fastParams())

	if _, err := ks.Load("wallet", []byte("wrong")); err == nil {
		t.Error("Load() with wrong password should fail")
	}
}

func TestKeystore_List(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected 0 wallets, got %d", len(names))
	}

	ks.Create("alpha", seed, []byte("p"), fastParams())
	ks.Create("beta", seed, []byte("p"), fastParams())

	names, err = ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 wallets, got %d", len(names))
	}
}

func TestKeystore_Delete(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("todelete", seed, []byte("p"), fastParams())

	if err := ks.Delete("todelete"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := ks.Load("todelete", []byte("p")); err == nil {
		t.Error("wallet should be deleted")
	}
}

func TestKeystore_FilePermissions(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("secure", seed, []byte("p"), fastParams())

	info, err := os.Stat(filepath.Join(ks.path, "secure.wallet"))
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("wallet file should be 0600, got %o", perm)
	}
}

func TestKeystore_AddAccount_IdempotentRename(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("wallet", seed, []byte("p"), fastParams())

	if err := ks.AddAccount("wallet", AccountEntry{Index: 0, Name: "default"}); err != nil {
		t.Fatalf("AddAccount() error: %v", err)
	}
	if err := ks.AddAccount("wallet", AccountEntry{Index: 0, Name: "renamed"}); err != nil {
		t.Fatalf("AddAccount() rename error: %v", err)
	}

	accounts, err := ks.ListAccounts("wallet")
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account after rename, got %d", len(accounts))
	}
	if accounts[0].Name != "renamed" {
		t.Errorf("account name = %q, want %q", accounts[0].Name, "renamed")
	}
}

func TestKeystore_Lookahead_PerAccount(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	ks.Create("wallet", seed, []byte("p"), fastParams())

	next, err := ks.GetLookahead("wallet", 0)
	if err != nil {
		t.Fatalf("GetLookahead: %v", err)
	}
	if next != 0 {
		t.Errorf("initial lookahead = %d, want 0", next)
	}

	if err := ks.SetLookahead("wallet", 0, 50); err != nil {
		t.Fatalf("SetLookahead: %v", err)
	}
	if err := ks.SetLookahead("wallet", AccountChange, 10); err != nil {
		t.Fatalf("SetLookahead change: %v", err)
	}

	next, _ = ks.GetLookahead("wallet", 0)
	if next != 50 {
		t.Errorf("account 0 lookahead = %d, want 50", next)
	}
	next, _ = ks.GetLookahead("wallet", AccountChange)
	if next != 10 {
		t.Errorf("change account lookahead = %d, want 10", next)
	}
}
