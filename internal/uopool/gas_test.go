// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.

package uopool

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestCalcPreVerificationGas(t *testing.T) {
	op := &UserOperationSigned{
		Sender:               addr(1),
		Nonce:                uint256.NewInt(0),
		CallData:             []byte{0x01, 0x00, 0x02},
		CallGasLimit:         uint256.NewInt(100000),
		VerificationGasLimit: uint256.NewInt(100000),
		PreVerificationGas:   uint256.NewInt(21000),
		MaxFeePerGas:         uint256.NewInt(2),
		MaxPriorityFeePerGas: uint256.NewInt(1),
	}

	pvg, err := CalcPreVerificationGas(op)
	if err != nil {
		t.Fatalf("CalcPreVerificationGas: %v", err)
	}
	if pvg <= pvgFixed+pvgPerUserOp {
		t.Fatalf("pvg = %d, want more than the fixed+per-op floor (%d)", pvg, pvgFixed+pvgPerUserOp)
	}
	t.Log("✓ calc_pvg returns a value above its fixed floor once calldata/word cost is added")
}

func TestCalcPreVerificationGasMonotoneInByteLengthFields(t *testing.T) {
	base := &UserOperationSigned{
		Sender:               addr(1),
		Nonce:                uint256.NewInt(0),
		CallGasLimit:         uint256.NewInt(100000),
		VerificationGasLimit: uint256.NewInt(100000),
		PreVerificationGas:   uint256.NewInt(21000),
		MaxFeePerGas:         uint256.NewInt(2),
		MaxPriorityFeePerGas: uint256.NewInt(1),
	}

	small, err := CalcPreVerificationGas(base)
	if err != nil {
		t.Fatalf("CalcPreVerificationGas(small): %v", err)
	}

	large := *base
	large.CallData = make([]byte, 10*1024)
	large.InitCode = make([]byte, 1024)
	for i := range large.CallData {
		large.CallData[i] = 0xff
	}
	largePvg, err := CalcPreVerificationGas(&large)
	if err != nil {
		t.Fatalf("CalcPreVerificationGas(large): %v", err)
	}

	if largePvg <= small {
		t.Fatalf("pvg did not grow with call_data/init_code length: small=%d large=%d", small, largePvg)
	}
	want := small + calldataGasCost(large.CallData) + calldataGasCost(large.InitCode)
	if largePvg < want {
		t.Fatalf("pvg = %d undercounts the raw call_data/init_code bytes it must price (want at least %d)", largePvg, want)
	}
	t.Log("✓ calc_pvg grows with the full raw bytes of init_code/call_data, not their keccak256 digest")
}

func TestCalldataGasCost(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0xff}
	got := calldataGasCost(data)
	want := 2*zeroByteGas + 2*nonZeroByteGas
	if got != want {
		t.Fatalf("calldataGasCost = %d, want %d", got, want)
	}
	t.Log("✓ calldata gas cost charges zeroByteGas/nonZeroByteGas per byte")
}

func TestCeilDiv(t *testing.T) {
	cases := []struct{ a, b, want uint64 }{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
		{1, 1, 1},
	}
	for _, c := range cases {
		if got := ceilDiv(c.a, c.b); got != c.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
	t.Log("✓ ceilDiv rounds up")
}

func TestMeetsFeeBump(t *testing.T) {
	if !MeetsFeeBump(110, 100) {
		t.Fatal("a 10%% bump should clear a 10%% requirement")
	}
	if MeetsFeeBump(109, 100) {
		t.Fatal("a 9%% bump should not clear a 10%% requirement")
	}
	if !MeetsFeeBump(0, 0) {
		t.Fatal("matching zero fees should clear a zero requirement")
	}
	t.Log("✓ fee bump requires at least GasIncreasePercent over the displaced operation")
}

func TestDeriveCallGasLimit(t *testing.T) {
	result := EstimatedGas{PreOpGas: 21000, Paid: 210000}
	got := DeriveCallGasLimit(result, 10)
	want := satAddU64(21000-21000, pvgFixed)
	if got != want {
		t.Fatalf("DeriveCallGasLimit = %d, want %d", got, want)
	}
	if got := DeriveCallGasLimit(result, 0); got != pvgFixed {
		t.Fatalf("DeriveCallGasLimit with zero feePerGas = %d, want %d", got, pvgFixed)
	}
	t.Log("✓ call_gas_limit derives from paid/feePerGas minus pre_op_gas")
}
