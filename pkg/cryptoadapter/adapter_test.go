package cryptoadapter

import (
	"encoding/hex"
	"testing"

	"github.com/klingon-tech/lightwalletd/pkg/types"
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func TestDeriveMasterSK_Deterministic(t *testing.T) {
	a := New()
	seed := testSeed(t)

	sk1, err := a.DeriveMasterSK(seed)
	if err != nil {
		t.Fatalf("DeriveMasterSK: %v", err)
	}
	sk2, err := a.DeriveMasterSK(seed)
	if err != nil {
		t.Fatalf("DeriveMasterSK: %v", err)
	}
	if sk1 != sk2 {
		t.Error("DeriveMasterSK is not deterministic")
	}
	if sk1.IsZero() {
		t.Error("DeriveMasterSK returned zero scalar")
	}
}

func TestDeriveMasterSK_EmptySeed(t *testing.T) {
	a := New()
	if _, err := a.DeriveMasterSK(nil); err == nil {
		t.Error("expected error for empty seed")
	}
}

func TestDeriveChildSK_FixedPath(t *testing.T) {
	a := New()
	seed := testSeed(t)

	master, err := a.DeriveMasterSK(seed)
	if err != nil {
		t.Fatalf("DeriveMasterSK: %v", err)
	}

	// seed -> (130) -> child
	child, err := a.DeriveChildSK(master, 130)
	if err != nil {
		t.Fatalf("DeriveChildSK(master, 130): %v", err)
	}

	// child -> (0) -> tx_key, child -> (1) -> blinding_key, child -> (2) -> token_key
	txKey, err := a.DeriveChildSK(child, 0)
	if err != nil {
		t.Fatalf("DeriveChildSK(child, 0): %v", err)
	}
	blindingKey, err := a.DeriveChildSK(child, 1)
	if err != nil {
		t.Fatalf("DeriveChildSK(child, 1): %v", err)
	}
	tokenKey, err := a.DeriveChildSK(child, 2)
	if err != nil {
		t.Fatalf("DeriveChildSK(child, 2): %v", err)
	}
	if txKey == blindingKey || blindingKey == tokenKey || txKey == tokenKey {
		t.Error("distinct child indices must not collide")
	}

	// tx_key -> (0) -> view_key, tx_key -> (1) -> spend_key
	viewKey, err := a.DeriveChildSK(txKey, 0)
	if err != nil {
		t.Fatalf("DeriveChildSK(txKey, 0): %v", err)
	}
	spendKey, err := a.DeriveChildSK(txKey, 1)
	if err != nil {
		t.Fatalf("DeriveChildSK(txKey, 1): %v", err)
	}
	if viewKey == spendKey {
		t.Error("view and spend keys must differ")
	}
}

func TestSKToPK_Deterministic(t *testing.T) {
	a := New()
	sk, err := a.DeriveMasterSK(testSeed(t))
	if err != nil {
		t.Fatalf("DeriveMasterSK: %v", err)
	}
	pk1, err := a.SKToPK(sk)
	if err != nil {
		t.Fatalf("SKToPK: %v", err)
	}
	pk2, err := a.SKToPK(sk)
	if err != nil {
		t.Fatalf("SKToPK: %v", err)
	}
	if pk1 != pk2 {
		t.Error("SKToPK is not deterministic")
	}
	if pk1.IsZero() {
		t.Error("SKToPK returned zero point")
	}
}

func TestNonce_Symmetric(t *testing.T) {
	a := New()
	seed := testSeed(t)

	viewSK, err := a.DeriveMasterSK(seed)
	if err != nil {
		t.Fatalf("DeriveMasterSK: %v", err)
	}
	blindingSK, err := a.DeriveChildSK(viewSK, 1)
	if err != nil {
		t.Fatalf("DeriveChildSK: %v", err)
	}

	viewPK, err := a.SKToPK(viewSK)
	if err != nil {
		t.Fatalf("SKToPK(viewSK): %v", err)
	}
	blindingPK, err := a.SKToPK(blindingSK)
	if err != nil {
		t.Fatalf("SKToPK(blindingSK): %v", err)
	}

	n1, err := a.Nonce(blindingPK, viewSK)
	if err != nil {
		t.Fatalf("Nonce(blindingPK, viewSK): %v", err)
	}
	n2, err := a.Nonce(viewPK, blindingSK)
	if err != nil {
		t.Fatalf("Nonce(viewPK, blindingSK): %v", err)
	}
	if n1 != n2 {
		t.Error("DH shared secret is not symmetric: blinding_pk*view_sk != view_pk*blinding_sk")
	}
}

func TestViewTag_MatchesBuilderSide(t *testing.T) {
	a := New()
	viewSK, err := a.DeriveMasterSK(testSeed(t))
	if err != nil {
		t.Fatalf("DeriveMasterSK: %v", err)
	}
	ephemeralSK, err := a.DeriveChildSK(viewSK, 1)
	if err != nil {
		t.Fatalf("DeriveChildSK: %v", err)
	}
	viewPK, err := a.SKToPK(viewSK)
	if err != nil {
		t.Fatalf("SKToPK: %v", err)
	}
	ephemeralPK, err := a.SKToPK(ephemeralSK)
	if err != nil {
		t.Fatalf("SKToPK: %v", err)
	}

	builderTag, err := a.ViewTag(ephemeralPK, viewSK)
	if err != nil {
		t.Fatalf("ViewTag: %v", err)
	}

	n, err := a.Nonce(viewPK, ephemeralSK)
	if err != nil {
		t.Fatalf("Nonce: %v", err)
	}
	receiverTag := viewTagFromNonce(n)

	if builderTag != receiverTag {
		t.Errorf("view tag mismatch: %d != %d", builderTag, receiverTag)
	}
}

func TestBuildCtxAndRecoverAmount_RoundTrip(t *testing.T) {
	a := New()
	seed := testSeed(t)

	masterSK, err := a.DeriveMasterSK(seed)
	if err != nil {
		t.Fatalf("DeriveMasterSK: %v", err)
	}
	viewSK, err := a.DeriveChildSK(masterSK, 0)
	if err != nil {
		t.Fatalf("DeriveChildSK: %v", err)
	}
	spendSK, err := a.DeriveChildSK(masterSK, 1)
	if err != nil {
		t.Fatalf("DeriveChildSK: %v", err)
	}
	viewPK, err := a.SKToPK(viewSK)
	if err != nil {
		t.Fatalf("SKToPK: %v", err)
	}
	spendPK, err := a.SKToPK(spendSK)
	if err != nil {
		t.Fatalf("SKToPK: %v", err)
	}

	out := TxOutput{
		DestViewPK:     viewPK,
		DestSpendingPK: spendPK,
		Amount:         10_000_000,
		Memo:           "pay",
	}
	in := TxInput{OutputHash: types.Hash{0x01}, SpendingSK: spendSK, Amount: 20_000_000}

	rawHex, err := a.BuildCtx([]TxInput{in}, []TxOutput{out})
	if err != nil {
		t.Fatalf("BuildCtx: %v", err)
	}
	if rawHex == "" {
		t.Fatal("BuildCtx returned empty hex")
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		t.Fatalf("decode raw tx hex: %v", err)
	}
	// version(4) + input count(1) + input(32+1+4) + output count(1) +
	// value(8) + flags(8) + empty script(1) precede the range proof.
	blob := raw[60:]
	vsCount, n, err := readVarint(blob)
	if err != nil {
		t.Fatalf("read Vs count: %v", err)
	}
	rpLen := n + int(vsCount)*PointSize + 2 + 3*PointSize + 5*ScalarSize
	// The spending key follows the range proof, then the blinding key slot,
	// which BuildCtx fills with the output's ephemeral public key.
	var ephemeralPK Point
	copy(ephemeralPK[:], blob[rpLen+PointSize:rpLen+2*PointSize])

	nonce, err := a.Nonce(ephemeralPK, viewSK)
	if err != nil {
		t.Fatalf("Nonce: %v", err)
	}
	rec, err := a.RecoverAmount(blob[:rpLen], nonce, nil)
	if err != nil {
		t.Fatalf("RecoverAmount: %v", err)
	}
	if rec.Amount != 10_000_000 || rec.Memo != "pay" {
		t.Errorf("recovered amount %d memo %q, want 10000000 \"pay\"", rec.Amount, rec.Memo)
	}
}

func TestBuildCtx_RequiresInputsAndOutputs(t *testing.T) {
	a := New()
	if _, err := a.BuildCtx(nil, []TxOutput{{}}); err == nil {
		t.Error("expected error with no inputs")
	}
	if _, err := a.BuildCtx([]TxInput{{}}, nil); err == nil {
		t.Error("expected error with no outputs")
	}
}

func TestRecoverAmount_WrongNonceFails(t *testing.T) {
	a := New()
	seed := testSeed(t)
	sk, _ := a.DeriveMasterSK(seed)
	pk, _ := a.SKToPK(sk)

	blob, err := sealAmount(pk, 100, Scalar{0x01}, "hi")
	if err != nil {
		t.Fatalf("sealAmount: %v", err)
	}

	var wrongNonce Point
	copy(wrongNonce[:], pk[:])
	wrongNonce[0] ^= 0xff

	if _, err := a.RecoverAmount(blob, wrongNonce, nil); err == nil {
		t.Error("expected recovery failure with wrong nonce point")
	}
}
