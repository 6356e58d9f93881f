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
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"

	"github.com/n42blockchain/uopool/common/types"
	"github.com/n42blockchain/uopool/pkg/errors"
)

// Status classifies an entity's standing in the mempool.
type Status int

const (
	StatusOK Status = iota
	StatusThrottled
	StatusBanned
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusThrottled:
		return "throttled"
	case StatusBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// ReputationEntry tracks how often an address has been seen and
// actually included on-chain, the ratio behind get_status's
// throttle/ban decision.
type ReputationEntry struct {
	Address    types.Address
	UOSeen     uint64
	UOIncluded uint64
	Status     Status
}

func defaultEntry(addr types.Address) ReputationEntry {
	return ReputationEntry{Address: addr, Status: StatusOK}
}

// Reputation implements the entity reputation engine: a whitelist, a
// blacklist, and a per-address seen/included counter pair that together
// decide whether an entity's operations are accepted, throttled, or
// rejected outright.
//
// Counter arithmetic is saturating — see satmath.go — so a flood of
// increment_seen calls can't wrap a counter back to a healthy value.
type Reputation struct {
	minInclusionDenominator uint64
	throttlingSlack         uint64
	banSlack                uint64
	minStake                *uint256.Int
	minUnstakeDelay         uint64

	mu        sync.RWMutex
	whitelist mapset.Set[types.Address]
	blacklist mapset.Set[types.Address]
	entities  map[types.Address]ReputationEntry
}

// NewReputation builds a reputation engine with the given thresholds.
// The spec-mandated defaults are MIN_INCLUSION_DENOMINATOR=10,
// THROTTLING_SLACK=10, BAN_SLACK=50.
func NewReputation(minInclusionDenominator, throttlingSlack, banSlack uint64, minStake *uint256.Int, minUnstakeDelay uint64) *Reputation {
	return &Reputation{
		minInclusionDenominator: minInclusionDenominator,
		throttlingSlack:         throttlingSlack,
		banSlack:                banSlack,
		minStake:                minStake,
		minUnstakeDelay:         minUnstakeDelay,
		whitelist:               mapset.NewSet[types.Address](),
		blacklist:               mapset.NewSet[types.Address](),
		entities:                make(map[types.Address]ReputationEntry),
	}
}

// setDefault installs a default entry for addr if none exists yet.
// Caller must hold r.mu for writing.
func (r *Reputation) setDefault(addr types.Address) {
	if _, ok := r.entities[addr]; !ok {
		r.entities[addr] = defaultEntry(addr)
	}
}

// Get returns addr's reputation entry with its status freshly computed.
func (r *Reputation) Get(addr types.Address) ReputationEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, ok := r.entities[addr]
	if !ok {
		ent = defaultEntry(addr)
	}
	ent.Status = r.statusLocked(addr)
	return ent
}

// IncrementSeen records one more sighting of addr (e.g. as a
// sender/factory/paymaster in a submitted operation).
func (r *Reputation) IncrementSeen(addr types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setDefault(addr)
	ent := r.entities[addr]
	ent.UOSeen = satAddU64(ent.UOSeen, 1)
	r.entities[addr] = ent
}

// IncrementIncluded records one more operation from addr actually
// included in a mined block.
func (r *Reputation) IncrementIncluded(addr types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setDefault(addr)
	ent := r.entities[addr]
	ent.UOIncluded = satAddU64(ent.UOIncluded, 1)
	r.entities[addr] = ent
}

// UpdateHourly decays every entity's seen/included counters by a factor
// of 23/24, the mechanism by which reputation recovers over time.
func (r *Reputation) UpdateHourly() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for addr, ent := range r.entities {
		ent.UOSeen = ent.UOSeen * 23 / 24
		ent.UOIncluded = ent.UOIncluded * 23 / 24
		r.entities[addr] = ent
	}
}

// AddWhitelist adds addr to the whitelist, returning false if it was
// already present.
func (r *Reputation) AddWhitelist(addr types.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.whitelist.Contains(addr) {
		return false
	}
	r.whitelist.Add(addr)
	return true
}

// RemoveWhitelist removes addr from the whitelist, returning false if
// it wasn't present.
func (r *Reputation) RemoveWhitelist(addr types.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.whitelist.Contains(addr) {
		return false
	}
	r.whitelist.Remove(addr)
	return true
}

// IsWhitelisted reports whether addr is on the whitelist.
func (r *Reputation) IsWhitelisted(addr types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.whitelist.Contains(addr)
}

// AddBlacklist adds addr to the blacklist, returning false if it was
// already present.
func (r *Reputation) AddBlacklist(addr types.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blacklist.Contains(addr) {
		return false
	}
	r.blacklist.Add(addr)
	return true
}

// RemoveBlacklist removes addr from the blacklist, returning false if
// it wasn't present.
func (r *Reputation) RemoveBlacklist(addr types.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.blacklist.Contains(addr) {
		return false
	}
	r.blacklist.Remove(addr)
	return true
}

// IsBlacklisted reports whether addr is on the blacklist.
func (r *Reputation) IsBlacklisted(addr types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blacklist.Contains(addr)
}

// GetStatus returns addr's current reputation status.
func (r *Reputation) GetStatus(addr types.Address) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked(addr)
}

// statusLocked computes addr's status under an already-held lock.
// Whitelist wins over everything, then blacklist, then the
// seen/included ratio against the throttling and ban slack thresholds.
func (r *Reputation) statusLocked(addr types.Address) Status {
	if r.whitelist.Contains(addr) {
		return StatusOK
	}
	if r.blacklist.Contains(addr) {
		return StatusBanned
	}

	ent, ok := r.entities[addr]
	if !ok {
		return StatusOK
	}

	maxSeen := ent.UOSeen / r.minInclusionDenominator
	switch {
	case maxSeen > satAddU64(ent.UOIncluded, r.banSlack):
		return StatusBanned
	case maxSeen > satAddU64(ent.UOIncluded, r.throttlingSlack):
		return StatusThrottled
	default:
		return StatusOK
	}
}

// UpdateHandleOpsReverted resets addr's reputation as if it had just
// been seen a great many times with nothing included, the penalty
// applied when handleOps reverts because of this entity.
func (r *Reputation) UpdateHandleOpsReverted(addr types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setDefault(addr)
	ent := r.entities[addr]
	ent.UOSeen = 100
	ent.UOIncluded = 0
	r.entities[addr] = ent
}

// VerifyStake checks info against the minimum stake and unstake delay
// requirements for entity (one of "account", "factory", "paymaster",
// "aggregator").
// A whitelisted address is exempt. info == nil means the entity wasn't
// involved (e.g. no paymaster), which always passes.
func (r *Reputation) VerifyStake(entity string, info *StakeInfo) error {
	if info == nil {
		return nil
	}

	r.mu.RLock()
	whitelisted := r.whitelist.Contains(info.Address)
	r.mu.RUnlock()
	if whitelisted {
		return nil
	}

	stake := info.Stake
	if stake == nil {
		stake = uint256.NewInt(0)
	}
	if stake.Lt(r.minStake) {
		return errors.Wrapf(errors.ErrStakeTooLow, "%s %s: stake %s below minimum %s", entity, info.Address, stake, r.minStake)
	}

	if info.UnstakeDelay < r.minUnstakeDelay {
		return errors.Wrapf(errors.ErrUnstakeDelayTooLow, "%s %s: unstake delay %d below minimum %d", entity, info.Address, info.UnstakeDelay, r.minUnstakeDelay)
	}

	return nil
}

// SetEntities overwrites the reputation entries for the given
// addresses, used to seed the engine from a persisted snapshot.
func (r *Reputation) SetEntities(entries []ReputationEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ent := range entries {
		r.entities[ent.Address] = ent
	}
}

// GetAll returns every tracked reputation entry, with status
// recomputed fresh for each.
func (r *Reputation) GetAll() []ReputationEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ReputationEntry, 0, len(r.entities))
	for addr, ent := range r.entities {
		ent.Status = r.statusLocked(addr)
		out = append(out, ent)
	}
	return out
}

// GetStatusFromBytes decodes the leading 20-byte address out of b (the
// shape of init_code / paymaster_and_data) and returns its reputation
// status. With no decodable address, the entity is absent, which is OK.
func (r *Reputation) GetStatusFromBytes(b []byte) Status {
	addr, ok := addressPrefix(b)
	if !ok {
		return StatusOK
	}
	return r.GetStatus(addr)
}

// Clear removes every tracked reputation entry. Whitelist and blacklist
// are untouched.
func (r *Reputation) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = make(map[types.Address]ReputationEntry)
}
