// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.

package uopool

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/n42blockchain/uopool/common/types"
)

func newTestReputation() *Reputation {
	return NewReputation(10, 10, 50, uint256.NewInt(1e17), 86400)
}

func addr(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func TestReputationDefaultStatusOK(t *testing.T) {
	r := newTestReputation()
	if got := r.GetStatus(addr(1)); got != StatusOK {
		t.Fatalf("unseen address status = %v, want OK", got)
	}
	t.Log("✓ unseen address defaults to OK")
}

func TestReputationWhitelistOverridesEverything(t *testing.T) {
	r := newTestReputation()
	a := addr(1)
	r.AddBlacklist(a)
	r.AddWhitelist(a)

	if got := r.GetStatus(a); got != StatusOK {
		t.Fatalf("whitelisted+blacklisted status = %v, want OK", got)
	}
	t.Log("✓ whitelist takes priority over blacklist")
}

func TestReputationBlacklistBans(t *testing.T) {
	r := newTestReputation()
	a := addr(2)
	r.AddBlacklist(a)

	if got := r.GetStatus(a); got != StatusBanned {
		t.Fatalf("blacklisted status = %v, want BANNED", got)
	}
	t.Log("✓ blacklisted address is banned")
}

func TestReputationThrottleAndBanThresholds(t *testing.T) {
	r := newTestReputation()
	a := addr(3)

	// uo_seen/10 > uo_included+10 throttles; > uo_included+50 bans.
	for i := 0; i < 210; i++ {
		r.IncrementSeen(a)
	}
	if got := r.GetStatus(a); got != StatusThrottled {
		t.Fatalf("status after 210 seen, 0 included = %v, want THROTTLED", got)
	}

	for i := 0; i < 600; i++ {
		r.IncrementSeen(a)
	}
	if got := r.GetStatus(a); got != StatusBanned {
		t.Fatalf("status after 810 seen, 0 included = %v, want BANNED", got)
	}
	t.Log("✓ throttle/ban thresholds apply in order")
}

func TestReputationIncrementIncludedOffsetsSeen(t *testing.T) {
	r := newTestReputation()
	a := addr(4)
	for i := 0; i < 210; i++ {
		r.IncrementSeen(a)
	}
	for i := 0; i < 50; i++ {
		r.IncrementIncluded(a)
	}
	if got := r.GetStatus(a); got != StatusOK {
		t.Fatalf("status after offsetting inclusions = %v, want OK", got)
	}
	t.Log("✓ inclusions offset the seen count")
}

func TestReputationUpdateHourlyDecays(t *testing.T) {
	r := newTestReputation()
	a := addr(5)
	for i := 0; i < 100; i++ {
		r.IncrementSeen(a)
	}

	r.UpdateHourly()
	ent := r.Get(a)
	if ent.UOSeen != 100*23/24 {
		t.Fatalf("uo_seen after one hourly decay = %d, want %d", ent.UOSeen, 100*23/24)
	}
	t.Log("✓ update_hourly decays counters by 23/24")
}

func TestReputationUpdateHandleOpsReverted(t *testing.T) {
	r := newTestReputation()
	a := addr(6)
	for i := 0; i < 5; i++ {
		r.IncrementIncluded(a)
	}

	r.UpdateHandleOpsReverted(a)
	ent := r.Get(a)
	if ent.UOSeen != 100 || ent.UOIncluded != 0 {
		t.Fatalf("entry after revert = %+v, want uo_seen=100 uo_included=0", ent)
	}
	t.Log("✓ a reverted handleOps resets seen=100 included=0")
}

func TestReputationVerifyStake(t *testing.T) {
	r := newTestReputation()

	if err := r.VerifyStake("paymaster", nil); err != nil {
		t.Fatalf("VerifyStake with nil info: %v", err)
	}

	low := &StakeInfo{Address: addr(7), Stake: uint256.NewInt(1), UnstakeDelay: 86400}
	if err := r.VerifyStake("factory", low); err == nil {
		t.Fatal("expected StakeTooLow error for underfunded stake")
	}

	underDelay := &StakeInfo{Address: addr(8), Stake: uint256.NewInt(1e17), UnstakeDelay: 1}
	if err := r.VerifyStake("factory", underDelay); err == nil {
		t.Fatal("expected UnstakeDelayTooLow error")
	}

	ok := &StakeInfo{Address: addr(9), Stake: uint256.NewInt(1e17), UnstakeDelay: 86400}
	if err := r.VerifyStake("factory", ok); err != nil {
		t.Fatalf("VerifyStake with sufficient stake: %v", err)
	}

	whitelisted := addr(10)
	r.AddWhitelist(whitelisted)
	exempt := &StakeInfo{Address: whitelisted, Stake: uint256.NewInt(0), UnstakeDelay: 0}
	if err := r.VerifyStake("factory", exempt); err != nil {
		t.Fatalf("VerifyStake should exempt whitelisted entities: %v", err)
	}
	t.Log("✓ verify_stake enforces min stake, min unstake delay, and whitelist exemption")
}

func TestReputationGetStatusFromBytes(t *testing.T) {
	r := newTestReputation()
	a := addr(11)
	r.AddBlacklist(a)

	data := append(a.Bytes(), []byte{0xde, 0xad, 0xbe, 0xef}...)
	if got := r.GetStatusFromBytes(data); got != StatusBanned {
		t.Fatalf("status decoded from bytes = %v, want BANNED", got)
	}
	if got := r.GetStatusFromBytes(nil); got != StatusOK {
		t.Fatalf("status from empty bytes = %v, want OK", got)
	}
	t.Log("✓ get_status_from_bytes decodes the leading address")
}

func TestReputationClear(t *testing.T) {
	r := newTestReputation()
	a := addr(12)
	r.IncrementSeen(a)
	r.Clear()

	ent := r.Get(a)
	if ent.UOSeen != 0 {
		t.Fatalf("uo_seen after Clear = %d, want 0", ent.UOSeen)
	}
	t.Log("✓ Clear resets tracked entities")
}

func BenchmarkReputationGetStatus(b *testing.B) {
	r := newTestReputation()
	a := addr(1)
	for i := 0; i < 50; i++ {
		r.IncrementSeen(a)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.GetStatus(a)
	}
}
