// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.

package uopool

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/n42blockchain/uopool/common/types"
	"github.com/n42blockchain/uopool/conf"
	"github.com/n42blockchain/uopool/log"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	cfg := conf.DefaultBundlerConfig()
	return &Validator{
		reputation: newTestReputation(),
		cfg:        cfg,
		clock:      SystemClock,
		log:        log.New("component", "validator_test"),
	}
}

func TestModeBitsetComposition(t *testing.T) {
	if ModeAll != ModeSanity|ModeSignature|ModeSimulation|ModeSimulationTrace {
		t.Fatal("ModeAll should be the union of every individual stage")
	}
	bundleMode := ModeSimulation | ModeSimulationTrace
	if bundleMode&ModeSanity != 0 || bundleMode&ModeSignature != 0 {
		t.Fatal("bundle-assembly mode must not include sanity or signature stages")
	}
	t.Log("✓ Mode bitset composes and isolates stages as expected")
}

func TestCheckFeeCoherence(t *testing.T) {
	v := newTestValidator(t)
	baseFee := uint256.NewInt(100)

	op := &UserOperationSigned{
		MaxFeePerGas:         uint256.NewInt(200),
		MaxPriorityFeePerGas: uint256.NewInt(50),
	}
	if err := v.checkFeeCoherence(op, baseFee); err != nil {
		t.Fatalf("coherent fees rejected: %v", err)
	}

	highPriority := &UserOperationSigned{
		MaxFeePerGas:         uint256.NewInt(100),
		MaxPriorityFeePerGas: uint256.NewInt(150),
	}
	if err := v.checkFeeCoherence(highPriority, baseFee); err == nil {
		t.Fatal("expected rejection when priority fee exceeds max fee")
	}

	belowBaseFee := &UserOperationSigned{
		MaxFeePerGas:         uint256.NewInt(120),
		MaxPriorityFeePerGas: uint256.NewInt(50),
	}
	if err := v.checkFeeCoherence(belowBaseFee, baseFee); err == nil {
		t.Fatal("expected rejection when max fee is below base_fee+priority_fee")
	}
	t.Log("✓ fee coherence rejects inverted and underpriced fee combinations")
}

func TestCheckFeeCoherenceMinPriorityFee(t *testing.T) {
	v := newTestValidator(t)
	v.cfg.MinPriorityFeePerGas = 10

	op := &UserOperationSigned{
		MaxFeePerGas:         uint256.NewInt(100),
		MaxPriorityFeePerGas: uint256.NewInt(5),
	}
	if err := v.checkFeeCoherence(op, nil); err == nil {
		t.Fatal("expected rejection when priority fee is below the configured minimum")
	}
	t.Log("✓ fee coherence enforces the configured minimum priority fee")
}

func TestSignatureStageSigFailed(t *testing.T) {
	v := newTestValidator(t)
	result := &ValidationResult{SigFailed: true}
	if err := v.signatureStage(result); err == nil {
		t.Fatal("expected signature check error when SigFailed is set")
	}
	t.Log("✓ SigFailed is rejected")
}

func TestSignatureStageExpiration(t *testing.T) {
	v := newTestValidator(t)
	v.cfg.ExpirationTimestampDiff = 30 * time.Second
	now := uint64(v.clock.Now().Unix())

	expiringSoon := &ValidationResult{ValidUntil: now + 5}
	if err := v.signatureStage(expiringSoon); err == nil {
		t.Fatal("expected expiration rejection for a validUntil within the expiration window")
	}

	farFuture := &ValidationResult{ValidUntil: now + 3600}
	if err := v.signatureStage(farFuture); err != nil {
		t.Fatalf("unexpected rejection for a distant validUntil: %v", err)
	}

	noExpiry := &ValidationResult{ValidUntil: 0}
	if err := v.signatureStage(noExpiry); err != nil {
		t.Fatalf("unexpected rejection when validUntil is unset: %v", err)
	}
	t.Log("✓ signature stage enforces the expiration safety window")
}

func TestSignatureStageDoesNotRejectFutureActivation(t *testing.T) {
	v := newTestValidator(t)
	now := uint64(v.clock.Now().Unix())
	result := &ValidationResult{ValidAfter: now + 3600}
	if err := v.signatureStage(result); err != nil {
		t.Fatalf("a future valid_after is an activation delay, not a rejection: %v", err)
	}
	t.Log("✓ signature stage does not itself reject not-yet-active operations")
}

func TestEntityFrameOrder(t *testing.T) {
	v := newTestValidator(t)

	senderOnly := &UserOperationSigned{Sender: addr(1)}
	order := v.entityFrameOrder(senderOnly)
	if len(order) != 1 || order[0].Kind != EntitySender {
		t.Fatalf("sender-only op should produce a single sender frame, got %+v", order)
	}

	full := &UserOperationSigned{
		Sender:           addr(1),
		InitCode:         append(addr(2).Bytes(), 0xaa),
		PaymasterAndData: append(addr(3).Bytes(), 0xbb),
	}
	order = v.entityFrameOrder(full)
	if len(order) != 3 {
		t.Fatalf("full op should produce 3 frames, got %d", len(order))
	}
	if order[0].Kind != EntityFactory || order[0].Address != addr(2) {
		t.Fatalf("first frame should be the factory, got %+v", order[0])
	}
	if order[1].Kind != EntitySender || order[1].Address != addr(1) {
		t.Fatalf("second frame should be the sender, got %+v", order[1])
	}
	if order[2].Kind != EntityPaymaster || order[2].Address != addr(3) {
		t.Fatalf("third frame should be the paymaster, got %+v", order[2])
	}
	t.Log("✓ entity frame order mirrors EntryPoint's factory -> account -> paymaster call sequence")
}

func TestCodeHashesEqual(t *testing.T) {
	a := []CodeHash{{Address: addr(1), Hash: types.HexToHash("0x01")}, {Address: addr(2), Hash: types.HexToHash("0x02")}}
	b := []CodeHash{{Address: addr(2), Hash: types.HexToHash("0x02")}, {Address: addr(1), Hash: types.HexToHash("0x01")}}
	if !codeHashesEqual(a, b) {
		t.Fatal("code hash sets differing only in order should compare equal")
	}

	mutated := []CodeHash{{Address: addr(1), Hash: types.HexToHash("0xff")}, {Address: addr(2), Hash: types.HexToHash("0x02")}}
	if codeHashesEqual(a, mutated) {
		t.Fatal("a changed code hash at the same address must not compare equal")
	}

	shorter := []CodeHash{{Address: addr(1), Hash: types.HexToHash("0x01")}}
	if codeHashesEqual(a, shorter) {
		t.Fatal("sets of different length must not compare equal")
	}
	t.Log("✓ codeHashesEqual is an order-independent multiset comparison")
}

func TestSenderQuotaAndReplacementAdmitsFirstOperation(t *testing.T) {
	v := newTestValidator(t)
	v.store = NewStore()

	op := &UserOperationSigned{Sender: addr(1), Nonce: uint256.NewInt(0)}
	prevHash, err := v.senderQuotaAndReplacement(nil, op)
	if err != nil {
		t.Fatalf("first operation from a sender should be admitted: %v", err)
	}
	if prevHash != nil {
		t.Fatal("first operation from a sender should not report a replacement")
	}
	t.Log("✓ a sender's first operation is admitted with no replacement")
}

func TestSenderQuotaAndReplacementRequiresFeeBump(t *testing.T) {
	v := newTestValidator(t)
	v.store = NewStore()
	prev := testOp(t, 1, 5, 100, nil, nil)
	v.store.Add(prev)

	tooLow := &UserOperationSigned{Sender: addr(1), Nonce: uint256.NewInt(5), MaxFeePerGas: uint256.NewInt(105), MaxPriorityFeePerGas: uint256.NewInt(104)}
	if _, err := v.senderQuotaAndReplacement(nil, tooLow); err == nil {
		t.Fatal("a replacement below the fee-bump threshold should be rejected")
	}

	bumped := &UserOperationSigned{Sender: addr(1), Nonce: uint256.NewInt(5), MaxFeePerGas: uint256.NewInt(112), MaxPriorityFeePerGas: uint256.NewInt(110)}
	prevHash, err := v.senderQuotaAndReplacement(nil, bumped)
	if err != nil {
		t.Fatalf("a replacement clearing the fee-bump threshold should be admitted: %v", err)
	}
	if prevHash == nil || *prevHash != prev.Hash {
		t.Fatal("a valid replacement should report the hash of the operation it displaces")
	}
	t.Log("✓ replacement at the same (sender, nonce) requires clearing the fee-bump threshold")
}

func TestVerifyStakeRejectsUnstakedSenderAtQuota(t *testing.T) {
	v := newTestValidator(t)
	v.store = NewStore()
	v.cfg.MaxUOsPerUnstakedSender = 1
	v.store.Add(testOp(t, 1, 0, 100, nil, nil))

	// A different nonce means no replacement match; the unstaked quota of 1
	// is already met, so admission depends on verify_stake. This test calls
	// VerifyStake directly with the zero-stake info such a sender carries
	// (senderQuotaAndReplacement itself needs a live adapter to fetch it).
	op := &UserOperationSigned{Sender: addr(1), Nonce: uint256.NewInt(1)}
	info := &StakeInfo{Address: addr(1), Stake: uint256.NewInt(0), UnstakeDelay: 0}
	if err := v.reputation.VerifyStake("account", info); err == nil {
		t.Fatal("expected an unstaked sender to fail verify_stake at the quota boundary")
	}
	_ = op
	t.Log("✓ an unstaked sender beyond its pending-operation quota must clear verify_stake")
}
