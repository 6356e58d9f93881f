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
	"context"

	"github.com/VictoriaMetrics/metrics"
	mapset "github.com/deckarep/golang-set/v2"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"

	"github.com/n42blockchain/uopool/common/types"
	"github.com/n42blockchain/uopool/conf"
	"github.com/n42blockchain/uopool/log"
	"github.com/n42blockchain/uopool/pkg/errors"
)

var (
	addUserOpTotal    = metrics.NewCounter(`uopool_pool_add_total`)
	removeUserOpTotal = metrics.NewCounter(`uopool_pool_remove_total`)
	bundleSize        = metrics.NewHistogram(`uopool_pool_bundle_size`)
	bundleAssembled   = metrics.NewCounter(`uopool_pool_bundles_assembled_total`)
)

// bundleSingleflightKey is the single key bundle_user_operations is
// always called with: the spec requires bundle assembly to be
// serialized with itself, never with anything else, so one constant
// key is all singleflight.Group needs to do that.
const bundleSingleflightKey = "bundle"

// PublishedOperation is the tuple the pool coordinator emits on its
// p2p-publish channel whenever a user operation is admitted, for
// downstream gossip to peers.
type PublishedOperation struct {
	Op            *UserOperation
	VerifiedBlock uint64
}

// UserOperationByHashResult is what get_user_operation_by_hash returns
// on a hit: the recovered operation plus the on-chain location of the
// handleOps call that included it.
type UserOperationByHashResult struct {
	Op          *UserOperationSigned
	EntryPoint  types.Address
	TxHash      types.Hash
	BlockHash   types.Hash
	BlockNumber uint64
}

// EstimatedGasLimits is estimate_user_operation_gas's result: the three
// limits a wallet should populate before submitting the operation for
// real.
type EstimatedGasLimits struct {
	PreVerificationGas   uint64
	VerificationGasLimit uint64
	CallGasLimit         uint64
}

// PoolCoordinator is the façade the RPC layer binds to 1:1 (spec.md
// §4.5, §6): it owns the entity store and reputation engine, drives the
// validator, and is the only place either of those two is mutated.
type PoolCoordinator struct {
	adapter    *EntryPointAdapter
	store      *Store
	reputation *Reputation
	validator  *Validator
	cfg        conf.BundlerConfig
	log        log.Logger

	bundleGroup singleflight.Group
	publish     chan<- PublishedOperation
}

// NewPoolCoordinator builds a coordinator for one (entryPoint, chainID)
// partition. publish may be nil, meaning no p2p gossip channel is
// attached — admissions are then silently not broadcast, which the
// spec treats as a normal, unremarkable configuration.
func NewPoolCoordinator(adapter *EntryPointAdapter, store *Store, reputation *Reputation, validator *Validator, cfg conf.BundlerConfig, publish chan<- PublishedOperation) *PoolCoordinator {
	return &PoolCoordinator{
		adapter:    adapter,
		store:      store,
		reputation: reputation,
		validator:  validator,
		cfg:        cfg,
		log:        log.New("component", "pool"),
		publish:    publish,
	}
}

// bannedEntity returns the first of sender/factory/paymaster that is
// currently BANNED, if any.
func (p *PoolCoordinator) bannedEntity(op *UserOperationSigned) (types.Address, bool) {
	if p.reputation.GetStatus(op.Sender) == StatusBanned {
		return op.Sender, true
	}
	if factory, ok := addressPrefix(op.InitCode); ok && p.reputation.GetStatus(factory) == StatusBanned {
		return factory, true
	}
	if paymaster, ok := addressPrefix(op.PaymasterAndData); ok && p.reputation.GetStatus(paymaster) == StatusBanned {
		return paymaster, true
	}
	return types.Address{}, false
}

// AddUserOperation implements add_user_operation (spec.md §4.5): full
// validation, replacement handling, gossip, entity-store insertion, and
// reputation's increment_seen bookkeeping.
func (p *PoolCoordinator) AddUserOperation(ctx context.Context, signed *UserOperationSigned) (types.Hash, error) {
	if addr, banned := p.bannedEntity(signed); banned {
		p.store.RemoveByEntity(addr)
		removeUserOpTotal.Inc()
		return types.Hash{}, errors.Wrapf(errors.ErrBannedEntity, "entity %s is banned", addr)
	}

	baseFee, err := p.adapter.BaseFee(ctx)
	if err != nil {
		return types.Hash{}, err
	}

	outcome, err := p.validator.Validate(ctx, signed, ModeAll, baseFee)
	if err != nil {
		return types.Hash{}, err
	}

	op, err := NewUserOperation(signed, p.adapter.Address(), p.adapter.ChainID())
	if err != nil {
		return types.Hash{}, errors.Wrap(err, "compute user operation hash")
	}

	if outcome.PrevHash != nil {
		p.store.Remove(*outcome.PrevHash)
	}

	if p.publish != nil {
		select {
		case p.publish <- PublishedOperation{Op: op, VerifiedBlock: outcome.VerifiedBlock}:
		default:
			p.log.Warn("publish channel full, dropping gossip for admitted operation", "hash", op.Hash)
		}
	}

	if p.store.Add(op) {
		p.store.SetCodeHashes(op.Hash, outcome.CodeHashes)
	}

	p.reputation.IncrementSeen(op.Sender())
	if factory, ok := op.Factory(); ok {
		p.reputation.IncrementSeen(factory)
	}
	if paymaster, ok := op.Paymaster(); ok {
		p.reputation.IncrementSeen(paymaster)
	}

	addUserOpTotal.Inc()
	p.log.Debug("admitted user operation", "hash", op.Hash, "sender", op.Sender())
	return op.Hash, nil
}

// BundleUserOperations implements bundle_user_operations (spec.md
// §4.5): it is serialized with itself via singleflight so concurrent
// callers see one coherent read-then-write pass over the mempool and
// the memoized paymaster-deposit ledger.
func (p *PoolCoordinator) BundleUserOperations(ctx context.Context, candidates []*UserOperation) ([]*UserOperation, error) {
	v, err, _ := p.bundleGroup.Do(bundleSingleflightKey, func() (interface{}, error) {
		return p.assembleBundle(ctx, candidates)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*UserOperation), nil
}

func (p *PoolCoordinator) assembleBundle(ctx context.Context, candidates []*UserOperation) ([]*UserOperation, error) {
	baseFee, err := p.adapter.BaseFee(ctx)
	if err != nil {
		return nil, err
	}

	allSenders := mapset.NewSet[types.Address]()
	for _, c := range candidates {
		allSenders.Add(c.Sender())
	}

	senders := mapset.NewSet[types.Address]()
	entityCount := make(map[types.Address]int)
	paymasterBalance := make(map[types.Address]*uint256.Int)
	var valid []*UserOperation
	var totalGas uint64

	for _, op := range candidates {
		if senders.Contains(op.Sender()) {
			continue
		}

		factory, hasFactory := op.Factory()
		paymaster, hasPaymaster := op.Paymaster()

		if hasFactory && p.reputation.GetStatus(factory) == StatusBanned {
			p.store.Remove(op.Hash)
			continue
		}
		if hasPaymaster && p.reputation.GetStatus(paymaster) == StatusBanned {
			p.store.Remove(op.Hash)
			continue
		}
		if hasPaymaster && p.reputation.GetStatus(paymaster) == StatusThrottled && entityCount[paymaster] >= p.cfg.ThrottledEntityBundleCount {
			continue
		}
		if hasFactory && p.reputation.GetStatus(factory) == StatusThrottled && entityCount[factory] >= p.cfg.ThrottledEntityBundleCount {
			continue
		}

		outcome, err := p.validator.Validate(ctx, op.Signed, ModeSimulation|ModeSimulationTrace, baseFee)
		if err != nil {
			p.store.Remove(op.Hash)
			continue
		}
		if outcome.ValidAfter != 0 {
			continue
		}

		conflict := false
		for addr := range outcome.StorageMap {
			if addr != op.Sender() && allSenders.Contains(addr) {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}

		cost := satAddU64(outcome.VerificationGasLimit, op.Signed.CallGasLimit.Uint64())
		if satAddU64(totalGas, cost) > p.cfg.MaxVerificationGas {
			break
		}

		if hasPaymaster {
			deposit, ok := paymasterBalance[paymaster]
			if !ok {
				info, err := p.adapter.GetDepositInfo(ctx, paymaster)
				if err != nil {
					continue
				}
				deposit = info.Deposit
			}
			if deposit == nil || outcome.PreFund == nil || deposit.Lt(outcome.PreFund) {
				continue
			}
			paymasterBalance[paymaster] = new(uint256.Int).Sub(deposit, outcome.PreFund)
			entityCount[paymaster]++
			if hasFactory {
				entityCount[factory]++
			}
		}

		valid = append(valid, op)
		senders.Add(op.Sender())
		totalGas = satAddU64(totalGas, cost)
	}

	bundleSize.Update(float64(len(valid)))
	bundleAssembled.Inc()
	p.log.Debug("assembled bundle", "candidates", len(candidates), "included", len(valid), "total_gas", totalGas)
	return valid, nil
}

// EstimateUserOperationGas implements estimate_user_operation_gas
// (spec.md §4.5).
func (p *PoolCoordinator) EstimateUserOperationGas(ctx context.Context, op *UserOperationSigned) (*EstimatedGasLimits, error) {
	result, err := p.adapter.SimulateHandleOp(ctx, op)
	if err != nil {
		return nil, err
	}

	pvg, err := CalcPreVerificationGas(op)
	if err != nil {
		return nil, errors.Wrap(err, "calc pre-verification gas")
	}

	verificationGasLimit := op.VerificationGasLimit.Uint64()
	if result.PreOpGas > 0 {
		verificationGasLimit = result.PreOpGas
	}

	return &EstimatedGasLimits{
		PreVerificationGas:   satAddU64(pvg, PreVerificationSafeReserve),
		VerificationGasLimit: verificationGasLimit,
		CallGasLimit:         DeriveCallGasLimit(*result, op.MaxFeePerGas.Uint64()),
	}, nil
}

// GetUserOperationByHash implements get_user_operation_by_hash
// (spec.md §4.5, §6): it scans the last FILTER_MAX_DEPTH blocks of
// EntryPoint event logs, recovers the enclosing handleOps transaction,
// and re-derives each packed operation's hash to find the match —
// rather than trusting the log's own (non-indexed) nonce field, which
// would require a second ABI decode this adapter doesn't expose.
func (p *PoolCoordinator) GetUserOperationByHash(ctx context.Context, hash types.Hash) (*UserOperationByHashResult, error) {
	tip, err := p.adapter.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	from := satSubU64(tip, p.cfg.FilterMaxDepth)

	logs, err := p.adapter.FilterUserOperationEvents(ctx, from, tip)
	if err != nil {
		return nil, err
	}

	for _, evLog := range logs {
		tx, _, err := p.adapter.TransactionByHash(ctx, evLog.TxHash)
		if err != nil || tx == nil {
			continue
		}
		ops, err := p.adapter.ParseFromInputData(tx.Data())
		if err != nil {
			continue
		}
		for _, candidate := range ops {
			h, err := UserOperationHash(candidate, p.adapter.Address(), p.adapter.ChainID())
			if err != nil || h != hash {
				continue
			}
			return &UserOperationByHashResult{
				Op:          candidate,
				EntryPoint:  p.adapter.Address(),
				TxHash:      types.HashFromGeth(evLog.TxHash),
				BlockHash:   types.HashFromGeth(evLog.BlockHash),
				BlockNumber: evLog.BlockNumber,
			}, nil
		}
	}

	return nil, errors.ErrNotFound
}

// GetUserOperationReceipt implements get_user_operation_receipt
// (spec.md §4.5, §6).
func (p *PoolCoordinator) GetUserOperationReceipt(ctx context.Context, hash types.Hash) (*gethtypes.Receipt, error) {
	found, err := p.GetUserOperationByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	receipt, err := p.adapter.TransactionReceipt(ctx, found.TxHash.ToGeth())
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// RemoveUserOperations implements remove_user_operations (spec.md
// §4.5): bookkeeping only, so individual failures are swallowed rather
// than aborting the whole batch.
func (p *PoolCoordinator) RemoveUserOperations(ops []*UserOperation) {
	for _, op := range ops {
		if !p.store.Remove(op.Hash) {
			continue
		}
		removeUserOpTotal.Inc()

		p.reputation.IncrementIncluded(op.Sender())
		if factory, ok := op.Factory(); ok {
			p.reputation.IncrementIncluded(factory)
		}
		if paymaster, ok := op.Paymaster(); ok {
			p.reputation.IncrementIncluded(paymaster)
		}
	}
}

// RemoveUserOperationByEntity implements remove_user_operation_by_entity,
// a thin delegation to the entity store.
func (p *PoolCoordinator) RemoveUserOperationByEntity(addr types.Address) []types.Hash {
	return p.store.RemoveByEntity(addr)
}

// GetAll returns every resident user operation, in the entity store's
// sorted order (decreasing max_priority_fee_per_gas).
func (p *PoolCoordinator) GetAll() []*UserOperation {
	return p.store.GetSorted()
}

// GetSorted returns every resident user operation ordered by
// decreasing max_priority_fee_per_gas.
func (p *PoolCoordinator) GetSorted() []*UserOperation {
	return p.store.GetSorted()
}

// ClearMempool removes every resident user operation.
func (p *PoolCoordinator) ClearMempool() {
	p.store.Clear()
}

// ClearReputation removes every tracked reputation entry.
func (p *PoolCoordinator) ClearReputation() {
	p.reputation.Clear()
}

// GetReputation returns every tracked reputation entry.
func (p *PoolCoordinator) GetReputation() []ReputationEntry {
	return p.reputation.GetAll()
}

// SetReputation overwrites the reputation entries for the given
// addresses, used to seed the engine from a persisted snapshot.
func (p *PoolCoordinator) SetReputation(entries []ReputationEntry) {
	p.reputation.SetEntities(entries)
}

// GetStakeInfo returns addr's current EntryPoint stake/deposit info.
func (p *PoolCoordinator) GetStakeInfo(ctx context.Context, addr types.Address) (*StakeInfo, error) {
	return p.adapter.GetDepositInfo(ctx, addr)
}
