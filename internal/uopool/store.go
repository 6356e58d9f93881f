// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.
//
// The N42 library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The N42 library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the N42 library. If not, see <http://www.gnu.org/licenses/>.

package uopool

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/n42blockchain/uopool/common/types"
	"github.com/n42blockchain/uopool/internal/cache"
)

// Store is the entity store: the mempool's primary op table plus the
// by_sender and by_entity (factory/paymaster) indices and the
// per-operation code-hash bookkeeping used by the anti-mutation check.
//
// Locks are acquired in the fixed order ops -> bySender -> byEntity ->
// codeHashes, matching the order add/remove touch all four collections
// in, so no two goroutines can deadlock taking them in opposite orders.
type Store struct {
	opsMu sync.RWMutex
	ops   map[types.Hash]*UserOperation

	bySenderMu sync.RWMutex
	bySender   map[types.Address]map[types.Hash]struct{}

	byEntityMu sync.RWMutex
	byEntity   map[types.Address]map[types.Hash]struct{}

	codeHashesMu sync.RWMutex
	codeHashes   map[types.Hash][]CodeHash

	sortedCache *cache.LRU[int, []*UserOperation]
}

const sortedViewCacheKey = 0

// NewStore builds an empty entity store. The sorted view is cached
// behind a single-entry LRU, invalidated on every mutation, so repeated
// bundle_user_operations calls within the same block don't re-sort the
// whole table when nothing has changed.
func NewStore() *Store {
	return &Store{
		ops:         make(map[types.Hash]*UserOperation),
		bySender:    make(map[types.Address]map[types.Hash]struct{}),
		byEntity:    make(map[types.Address]map[types.Hash]struct{}),
		codeHashes:  make(map[types.Hash][]CodeHash),
		sortedCache: cache.NewLRU[int, []*UserOperation](1),
	}
}

// Add inserts op into ops, by_sender, and by_entity for each present
// factory/paymaster, reporting false if op.Hash is already resident.
func (s *Store) Add(op *UserOperation) bool {
	s.opsMu.Lock()
	s.bySenderMu.Lock()
	s.byEntityMu.Lock()
	defer s.opsMu.Unlock()
	defer s.bySenderMu.Unlock()
	defer s.byEntityMu.Unlock()

	if _, exists := s.ops[op.Hash]; exists {
		return false
	}
	s.ops[op.Hash] = op

	sender := op.Sender()
	if s.bySender[sender] == nil {
		s.bySender[sender] = make(map[types.Hash]struct{})
	}
	s.bySender[sender][op.Hash] = struct{}{}

	if factory, ok := op.Factory(); ok {
		s.indexEntityLocked(factory, op.Hash)
	}
	if paymaster, ok := op.Paymaster(); ok {
		s.indexEntityLocked(paymaster, op.Hash)
	}

	s.invalidateSorted()
	return true
}

func (s *Store) indexEntityLocked(addr types.Address, hash types.Hash) {
	if s.byEntity[addr] == nil {
		s.byEntity[addr] = make(map[types.Hash]struct{})
	}
	s.byEntity[addr][hash] = struct{}{}
}

// SetCodeHashes records the code hashes observed for op.Hash during its
// validation trace, used by the second simulation pass to detect
// mutation.
func (s *Store) SetCodeHashes(hash types.Hash, hashes []CodeHash) {
	s.codeHashesMu.Lock()
	defer s.codeHashesMu.Unlock()
	s.codeHashes[hash] = hashes
}

// CodeHashes returns the code hashes recorded for hash, if any.
func (s *Store) CodeHashes(hash types.Hash) ([]CodeHash, bool) {
	s.codeHashesMu.RLock()
	defer s.codeHashesMu.RUnlock()
	hs, ok := s.codeHashes[hash]
	return hs, ok
}

// GetByHash returns the resident operation with the given hash.
func (s *Store) GetByHash(hash types.Hash) (*UserOperation, bool) {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	op, ok := s.ops[hash]
	return op, ok
}

// Remove deletes hash from all four collections, reporting false if it
// wasn't resident.
func (s *Store) Remove(hash types.Hash) bool {
	s.opsMu.Lock()
	s.bySenderMu.Lock()
	s.byEntityMu.Lock()
	s.codeHashesMu.Lock()
	defer s.opsMu.Unlock()
	defer s.bySenderMu.Unlock()
	defer s.byEntityMu.Unlock()
	defer s.codeHashesMu.Unlock()

	op, ok := s.ops[hash]
	if !ok {
		return false
	}
	delete(s.ops, hash)
	delete(s.codeHashes, hash)

	s.unindexSenderLocked(op.Sender(), hash)
	if factory, ok := op.Factory(); ok {
		s.unindexEntityLocked(factory, hash)
	}
	if paymaster, ok := op.Paymaster(); ok {
		s.unindexEntityLocked(paymaster, hash)
	}

	s.invalidateSorted()
	return true
}

func (s *Store) unindexSenderLocked(sender types.Address, hash types.Hash) {
	set := s.bySender[sender]
	delete(set, hash)
	if len(set) == 0 {
		delete(s.bySender, sender)
	}
}

func (s *Store) unindexEntityLocked(addr types.Address, hash types.Hash) {
	set := s.byEntity[addr]
	delete(set, hash)
	if len(set) == 0 {
		delete(s.byEntity, addr)
	}
}

// RemoveByEntity removes every operation whose factory or paymaster is
// addr, the purge applied when an entity transitions to BANNED.
func (s *Store) RemoveByEntity(addr types.Address) []types.Hash {
	s.byEntityMu.RLock()
	hashes := make([]types.Hash, 0, len(s.byEntity[addr]))
	for h := range s.byEntity[addr] {
		hashes = append(hashes, h)
	}
	s.byEntityMu.RUnlock()

	removed := make([]types.Hash, 0, len(hashes))
	for _, h := range hashes {
		if s.Remove(h) {
			removed = append(removed, h)
		}
	}
	return removed
}

// BySender returns every resident operation sent by addr.
func (s *Store) BySender(addr types.Address) []*UserOperation {
	s.bySenderMu.RLock()
	hashes := make([]types.Hash, 0, len(s.bySender[addr]))
	for h := range s.bySender[addr] {
		hashes = append(hashes, h)
	}
	s.bySenderMu.RUnlock()

	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	out := make([]*UserOperation, 0, len(hashes))
	for _, h := range hashes {
		if op, ok := s.ops[h]; ok {
			out = append(out, op)
		}
	}
	return out
}

// GetPrevBySender returns the resident operation with the same sender
// and nonce as op, the operation a replacement by fee-bump would
// displace. If more than one happens to be resident (a transient state
// during a replacement race), the one with the highest
// max_priority_fee_per_gas wins.
func (s *Store) GetPrevBySender(op *UserOperationSigned) (*UserOperation, bool) {
	candidates := s.BySender(op.Sender)

	var best *UserOperation
	for _, cand := range candidates {
		if !nonceEqual(cand.Signed.Nonce, op.Nonce) {
			continue
		}
		if best == nil || feeGreater(cand.Signed.MaxPriorityFeePerGas, best.Signed.MaxPriorityFeePerGas) {
			best = cand
		}
	}
	return best, best != nil
}

func nonceEqual(a, b *uint256.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Eq(b)
}

func feeGreater(a, b *uint256.Int) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Gt(b)
}

// GetSorted returns every resident operation ordered by strictly
// decreasing max_priority_fee_per_gas. Ties are broken by ascending
// hash (hex), not by insertion order: the store records no insertion
// sequence.
func (s *Store) GetSorted() []*UserOperation {
	if cached, ok := s.sortedCache.Get(sortedViewCacheKey); ok {
		return cached
	}

	s.opsMu.RLock()
	all := make([]*UserOperation, 0, len(s.ops))
	for _, op := range s.ops {
		all = append(all, op)
	}
	s.opsMu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		fi, fj := all[i].Signed.MaxPriorityFeePerGas, all[j].Signed.MaxPriorityFeePerGas
		if feeGreater(fi, fj) {
			return true
		}
		if feeGreater(fj, fi) {
			return false
		}
		return all[i].Hash.Hex() < all[j].Hash.Hex()
	})

	s.sortedCache.Set(sortedViewCacheKey, all)
	return all
}

func (s *Store) invalidateSorted() {
	s.sortedCache.Delete(sortedViewCacheKey)
}

// Len returns the number of resident operations.
func (s *Store) Len() int {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	return len(s.ops)
}

// CountBySender returns the number of resident operations sent by addr,
// used by the validator's per-sender unstaked-entity quota (spec's
// MAX_UOS_PER_UNSTAKED_SENDER).
func (s *Store) CountBySender(addr types.Address) int {
	s.bySenderMu.RLock()
	defer s.bySenderMu.RUnlock()
	return len(s.bySender[addr])
}

// Clear removes every operation from the store.
func (s *Store) Clear() {
	s.opsMu.Lock()
	s.bySenderMu.Lock()
	s.byEntityMu.Lock()
	s.codeHashesMu.Lock()
	defer s.opsMu.Unlock()
	defer s.bySenderMu.Unlock()
	defer s.byEntityMu.Unlock()
	defer s.codeHashesMu.Unlock()

	s.ops = make(map[types.Hash]*UserOperation)
	s.bySender = make(map[types.Address]map[types.Hash]struct{})
	s.byEntity = make(map[types.Address]map[types.Hash]struct{})
	s.codeHashes = make(map[types.Hash][]CodeHash)
	s.invalidateSorted()
}
