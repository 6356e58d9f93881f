// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.

package uopool

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/n42blockchain/uopool/common/types"
)

func testOp(t *testing.T, sender byte, nonce, priorityFee uint64, initCode, paymasterData []byte) *UserOperation {
	t.Helper()
	signed := &UserOperationSigned{
		Sender:               addr(sender),
		Nonce:                uint256.NewInt(nonce),
		InitCode:             initCode,
		CallData:             []byte{0x01},
		CallGasLimit:         uint256.NewInt(100000),
		VerificationGasLimit: uint256.NewInt(100000),
		PreVerificationGas:   uint256.NewInt(21000),
		MaxFeePerGas:         uint256.NewInt(priorityFee + 1),
		MaxPriorityFeePerGas: uint256.NewInt(priorityFee),
		PaymasterAndData:     paymasterData,
		Signature:            []byte{0xaa},
	}
	op, err := NewUserOperation(signed, addr(0xEE), 1)
	if err != nil {
		t.Fatalf("NewUserOperation: %v", err)
	}
	return op
}

func TestStoreAddGetRemove(t *testing.T) {
	s := NewStore()
	op := testOp(t, 1, 0, 10, nil, nil)

	if !s.Add(op) {
		t.Fatal("Add on a fresh hash should succeed")
	}
	if s.Add(op) {
		t.Fatal("Add of an already-resident hash should fail")
	}

	got, ok := s.GetByHash(op.Hash)
	if !ok || got.Hash != op.Hash {
		t.Fatal("GetByHash did not return the added operation")
	}

	if !s.Remove(op.Hash) {
		t.Fatal("Remove of a resident hash should succeed")
	}
	if s.Remove(op.Hash) {
		t.Fatal("Remove of an absent hash should fail")
	}
	if _, ok := s.GetByHash(op.Hash); ok {
		t.Fatal("removed operation should no longer be resident")
	}
	t.Log("✓ add/get/remove round-trip and reject duplicates/missing hashes")
}

func TestStoreBySenderCardinality(t *testing.T) {
	s := NewStore()
	a := testOp(t, 2, 0, 5, nil, nil)
	b := testOp(t, 2, 1, 6, nil, nil)
	c := testOp(t, 3, 0, 7, nil, nil)

	s.Add(a)
	s.Add(b)
	s.Add(c)

	if got := s.CountBySender(addr(2)); got != 2 {
		t.Fatalf("CountBySender(sender 2) = %d, want 2", got)
	}
	if got := s.CountBySender(addr(3)); got != 1 {
		t.Fatalf("CountBySender(sender 3) = %d, want 1", got)
	}

	s.Remove(a.Hash)
	if got := s.CountBySender(addr(2)); got != 1 {
		t.Fatalf("CountBySender(sender 2) after remove = %d, want 1", got)
	}
	t.Log("✓ by_sender cardinality tracks resident ops with that sender")
}

func TestStoreRemoveByEntity(t *testing.T) {
	s := NewStore()
	factory := make([]byte, 20)
	factory[19] = 0x42

	a := testOp(t, 4, 0, 1, factory, nil)
	b := testOp(t, 5, 0, 1, factory, nil)
	c := testOp(t, 6, 0, 1, nil, nil)

	s.Add(a)
	s.Add(b)
	s.Add(c)

	removed := s.RemoveByEntity(addr(0x42))
	if len(removed) != 2 {
		t.Fatalf("RemoveByEntity removed %d ops, want 2", len(removed))
	}
	if _, ok := s.GetByHash(c.Hash); !ok {
		t.Fatal("unrelated operation should survive RemoveByEntity")
	}
	t.Log("✓ remove_by_entity purges every op naming that entity as factory/paymaster")
}

func TestStoreGetSortedDescendingByPriorityFee(t *testing.T) {
	s := NewStore()
	low := testOp(t, 7, 0, 1, nil, nil)
	high := testOp(t, 8, 0, 100, nil, nil)
	mid := testOp(t, 9, 0, 50, nil, nil)

	s.Add(low)
	s.Add(high)
	s.Add(mid)

	sorted := s.GetSorted()
	if len(sorted) != 3 {
		t.Fatalf("GetSorted length = %d, want 3", len(sorted))
	}
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i].Signed.MaxPriorityFeePerGas.Lt(sorted[i+1].Signed.MaxPriorityFeePerGas) {
			t.Fatalf("GetSorted is not in decreasing priority-fee order at index %d", i)
		}
	}
	t.Log("✓ get_sorted orders operations by strictly decreasing priority fee")
}

func TestStoreGetSortedCacheInvalidatesOnMutation(t *testing.T) {
	s := NewStore()
	op := testOp(t, 10, 0, 1, nil, nil)
	s.Add(op)
	_ = s.GetSorted()

	op2 := testOp(t, 11, 0, 2, nil, nil)
	s.Add(op2)

	sorted := s.GetSorted()
	if len(sorted) != 2 {
		t.Fatalf("GetSorted after a mutation = %d entries, want 2 (cache should invalidate)", len(sorted))
	}
	t.Log("✓ the sorted-view cache invalidates on add/remove")
}

func TestStoreGetPrevBySender(t *testing.T) {
	s := NewStore()
	original := testOp(t, 12, 5, 10, nil, nil)
	s.Add(original)

	replacement := &UserOperationSigned{
		Sender:               addr(12),
		Nonce:                uint256.NewInt(5),
		MaxPriorityFeePerGas: uint256.NewInt(20),
		MaxFeePerGas:         uint256.NewInt(21),
	}

	prev, ok := s.GetPrevBySender(replacement)
	if !ok || prev.Hash != original.Hash {
		t.Fatal("GetPrevBySender should find the resident op at the same (sender, nonce)")
	}

	differentNonce := &UserOperationSigned{Sender: addr(12), Nonce: uint256.NewInt(6)}
	if _, ok := s.GetPrevBySender(differentNonce); ok {
		t.Fatal("GetPrevBySender should not match a different nonce")
	}
	t.Log("✓ get_prev_by_sender finds the resident op at the same (sender, nonce)")
}

func TestStoreCodeHashes(t *testing.T) {
	s := NewStore()
	op := testOp(t, 13, 0, 1, nil, nil)
	s.Add(op)

	hashes := []CodeHash{{Address: addr(0x99), Hash: types.Hash{0x01}}}
	s.SetCodeHashes(op.Hash, hashes)

	got, ok := s.CodeHashes(op.Hash)
	if !ok || len(got) != 1 || got[0].Address != addr(0x99) {
		t.Fatal("CodeHashes did not return the recorded entries")
	}

	s.Remove(op.Hash)
	if _, ok := s.CodeHashes(op.Hash); ok {
		t.Fatal("code hashes should be removed alongside their operation")
	}
	t.Log("✓ code hashes are bound to their operation's lifetime")
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	s.Add(testOp(t, 14, 0, 1, nil, nil))
	s.Add(testOp(t, 15, 0, 1, nil, nil))

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", s.Len())
	}
	t.Log("✓ Clear empties every collection")
}

func BenchmarkStoreAddRemove(b *testing.B) {
	s := NewStore()
	ops := make([]*UserOperation, b.N)
	for i := range ops {
		signed := &UserOperationSigned{
			Sender:               addr(byte(i % 256)),
			Nonce:                uint256.NewInt(uint64(i)),
			MaxPriorityFeePerGas: uint256.NewInt(uint64(i)),
			MaxFeePerGas:         uint256.NewInt(uint64(i) + 1),
		}
		op, _ := NewUserOperation(signed, addr(0xEE), 1)
		ops[i] = op
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Add(ops[i])
		s.Remove(ops[i].Hash)
	}
}
