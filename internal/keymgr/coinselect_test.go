package keymgr

import (
	"errors"
	"testing"

	"github.com/klingon-tech/lightwalletd/pkg/types"
)

func TestSelectCoins_LargestFirst(t *testing.T) {
	utxos := []UTXO{
		{OutputHash: types.Hash{1}, Value: 100_000_000},
		{OutputHash: types.Hash{2}, Value: 500_000_000},
		{OutputHash: types.Hash{3}, Value: 50_000_000},
	}

	sel, err := SelectCoins(utxos, 400_000_000, nil)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}

	// The largest UTXO alone (500M) covers 400M + fee(1+2)*200_000 = 600_000.
	if len(sel.Inputs) != 1 {
		t.Fatalf("expected 1 input, got %d", len(sel.Inputs))
	}
	if sel.Inputs[0].Value != 500_000_000 {
		t.Errorf("selected input value = %d, want the largest UTXO", sel.Inputs[0].Value)
	}
	wantFee := uint64(3) * FeePerInputOutput
	if sel.Fee != wantFee {
		t.Errorf("fee = %d, want %d", sel.Fee, wantFee)
	}
	if sel.Change != sel.Total-400_000_000-wantFee {
		t.Errorf("change = %d, inconsistent with total/fee", sel.Change)
	}
}

func TestSelectCoins_AccumulatesMultipleInputs(t *testing.T) {
	utxos := []UTXO{
		{OutputHash: types.Hash{1}, Value: 10_000_000},
		{OutputHash: types.Hash{2}, Value: 20_000_000},
		{OutputHash: types.Hash{3}, Value: 30_000_000},
	}

	sel, err := SelectCoins(utxos, 55_000_000, nil)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}

	// Largest-first: 30M, then 20M (=50M, fee at 2 inputs = 4*200_000 =
	// 800_000, still short), then 10M (=60M, fee at 3 inputs = 5*200_000).
	if len(sel.Inputs) != 3 {
		t.Fatalf("expected 3 inputs, got %d", len(sel.Inputs))
	}
	if sel.Inputs[0].Value != 30_000_000 || sel.Inputs[1].Value != 20_000_000 || sel.Inputs[2].Value != 10_000_000 {
		t.Errorf("inputs not selected largest-first: %+v", sel.Inputs)
	}
}

func TestSelectCoins_InsufficientFunds(t *testing.T) {
	utxos := []UTXO{{OutputHash: types.Hash{1}, Value: 1_000}}

	_, err := SelectCoins(utxos, 1_000_000_000, nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSelectCoins_NoUTXOs(t *testing.T) {
	_, err := SelectCoins(nil, 1, nil)
	if !errors.Is(err, ErrNoUTXOs) {
		t.Errorf("expected ErrNoUTXOs, got %v", err)
	}
}

func TestSelectCoins_FiltersByToken(t *testing.T) {
	tokenA := types.TokenID{0xAA}
	tokenB := types.TokenID{0xBB}

	utxos := []UTXO{
		{OutputHash: types.Hash{1}, Value: 1_000_000_000, TokenID: &tokenA},
		{OutputHash: types.Hash{2}, Value: 1_000_000_000, TokenID: &tokenB},
		{OutputHash: types.Hash{3}, Value: 1_000_000_000},
	}

	sel, err := SelectCoins(utxos, 1, &tokenA)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if len(sel.Inputs) != 1 || sel.Inputs[0].TokenID == nil || *sel.Inputs[0].TokenID != tokenA {
		t.Errorf("expected only the tokenA UTXO, got %+v", sel.Inputs)
	}

	// Base-asset selection (nil tokenID) must not pick up token UTXOs.
	sel, err = SelectCoins(utxos, 1, nil)
	if err != nil {
		t.Fatalf("SelectCoins (base asset): %v", err)
	}
	if len(sel.Inputs) != 1 || sel.Inputs[0].TokenID != nil {
		t.Errorf("expected only the base-asset UTXO, got %+v", sel.Inputs)
	}
}

func TestSelectCoins_ZeroAmount(t *testing.T) {
	utxos := []UTXO{{OutputHash: types.Hash{1}, Value: 1_000}}
	if _, err := SelectCoins(utxos, 0, nil); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestSelectCoins_IgnoresZeroValueUTXOs(t *testing.T) {
	utxos := []UTXO{
		{OutputHash: types.Hash{1}, Value: 0},
		{OutputHash: types.Hash{2}, Value: 1_000_000},
	}
	sel, err := SelectCoins(utxos, 1, nil)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if len(sel.Inputs) != 1 || sel.Inputs[0].Value != 1_000_000 {
		t.Errorf("zero-value UTXO should have been ignored: %+v", sel.Inputs)
	}
}
