// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.

package uopool

import (
	"testing"

	"github.com/n42blockchain/uopool/log"
)

func newTestPoolCoordinator(t *testing.T) *PoolCoordinator {
	t.Helper()
	return &PoolCoordinator{
		store:      NewStore(),
		reputation: newTestReputation(),
		log:        log.New("component", "pool_test"),
	}
}

func TestBannedEntitySender(t *testing.T) {
	p := newTestPoolCoordinator(t)
	p.reputation.AddBlacklist(addr(1))

	op := &UserOperationSigned{Sender: addr(1)}
	banned, ok := p.bannedEntity(op)
	if !ok || banned != addr(1) {
		t.Fatalf("bannedEntity should flag a blacklisted sender, got %+v ok=%v", banned, ok)
	}
	t.Log("✓ bannedEntity flags a banned sender")
}

func TestBannedEntityFactoryAndPaymaster(t *testing.T) {
	p := newTestPoolCoordinator(t)
	factory := make([]byte, 20)
	factory[19] = 0x42
	p.reputation.AddBlacklist(addr(0x42))

	op := &UserOperationSigned{Sender: addr(1), InitCode: factory}
	banned, ok := p.bannedEntity(op)
	if !ok || banned != addr(0x42) {
		t.Fatalf("bannedEntity should flag a blacklisted factory, got %+v ok=%v", banned, ok)
	}

	paymaster := make([]byte, 20)
	paymaster[19] = 0x43
	p.reputation.AddBlacklist(addr(0x43))
	op2 := &UserOperationSigned{Sender: addr(2), PaymasterAndData: paymaster}
	banned, ok = p.bannedEntity(op2)
	if !ok || banned != addr(0x43) {
		t.Fatalf("bannedEntity should flag a blacklisted paymaster, got %+v ok=%v", banned, ok)
	}
	t.Log("✓ bannedEntity checks factory and paymaster alongside the sender")
}

func TestBannedEntityClean(t *testing.T) {
	p := newTestPoolCoordinator(t)
	op := &UserOperationSigned{Sender: addr(9)}
	if _, ok := p.bannedEntity(op); ok {
		t.Fatal("bannedEntity should report false for an operation with no banned entities")
	}
	t.Log("✓ bannedEntity is false when nothing is banned")
}

func TestRemoveUserOperationsBookkeeping(t *testing.T) {
	p := newTestPoolCoordinator(t)
	factory := make([]byte, 20)
	factory[19] = 0x42
	op := testOp(t, 1, 0, 10, factory, nil)
	p.store.Add(op)

	p.RemoveUserOperations([]*UserOperation{op})

	if _, ok := p.store.GetByHash(op.Hash); ok {
		t.Fatal("RemoveUserOperations should remove the operation from the store")
	}
	if got := p.reputation.Get(op.Sender()).UOIncluded; got != 1 {
		t.Fatalf("sender UOIncluded = %d, want 1", got)
	}
	if got := p.reputation.Get(addr(0x42)).UOIncluded; got != 1 {
		t.Fatalf("factory UOIncluded = %d, want 1", got)
	}
	t.Log("✓ RemoveUserOperations purges the store and credits sender/factory/paymaster inclusion counts")
}

func TestRemoveUserOperationsSkipsAbsentOps(t *testing.T) {
	p := newTestPoolCoordinator(t)
	op := testOp(t, 2, 0, 10, nil, nil)

	p.RemoveUserOperations([]*UserOperation{op})

	if got := p.reputation.Get(op.Sender()).UOIncluded; got != 0 {
		t.Fatalf("an operation absent from the store must not bump inclusion counts, got %d", got)
	}
	t.Log("✓ RemoveUserOperations is a no-op for operations not resident in the store")
}

func TestRemoveUserOperationByEntityDelegation(t *testing.T) {
	p := newTestPoolCoordinator(t)
	factory := make([]byte, 20)
	factory[19] = 0x55
	op := testOp(t, 3, 0, 10, factory, nil)
	p.store.Add(op)

	removed := p.RemoveUserOperationByEntity(addr(0x55))
	if len(removed) != 1 || removed[0] != op.Hash {
		t.Fatalf("RemoveUserOperationByEntity = %+v, want [%v]", removed, op.Hash)
	}
	t.Log("✓ RemoveUserOperationByEntity delegates to the entity store")
}

func TestClearMempoolAndReputation(t *testing.T) {
	p := newTestPoolCoordinator(t)
	p.store.Add(testOp(t, 4, 0, 10, nil, nil))
	p.reputation.IncrementSeen(addr(4))

	p.ClearMempool()
	if p.store.Len() != 0 {
		t.Fatal("ClearMempool should empty the entity store")
	}

	p.ClearReputation()
	if got := p.reputation.Get(addr(4)).UOSeen; got != 0 {
		t.Fatalf("ClearReputation should reset tracked entries, UOSeen = %d", got)
	}
	t.Log("✓ ClearMempool and ClearReputation each empty their own collection")
}

func TestGetSetReputationRoundTrip(t *testing.T) {
	p := newTestPoolCoordinator(t)
	p.SetReputation([]ReputationEntry{{Address: addr(5), UOSeen: 7, UOIncluded: 3}})

	all := p.GetReputation()
	if len(all) != 1 || all[0].Address != addr(5) || all[0].UOSeen != 7 {
		t.Fatalf("GetReputation after SetReputation = %+v", all)
	}
	t.Log("✓ SetReputation seeds entries that GetReputation then reports")
}

func TestGetAllAndGetSorted(t *testing.T) {
	p := newTestPoolCoordinator(t)
	low := testOp(t, 6, 0, 1, nil, nil)
	high := testOp(t, 7, 0, 100, nil, nil)
	p.store.Add(low)
	p.store.Add(high)

	sorted := p.GetSorted()
	if len(sorted) != 2 || sorted[0].Hash != high.Hash {
		t.Fatalf("GetSorted should lead with the highest priority fee op, got %+v", sorted)
	}
	if all := p.GetAll(); len(all) != 2 {
		t.Fatalf("GetAll length = %d, want 2", len(all))
	}
	t.Log("✓ GetAll/GetSorted surface every resident operation in fee order")
}
