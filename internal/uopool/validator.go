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
	"strings"

	"github.com/VictoriaMetrics/metrics"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/n42blockchain/uopool/common/types"
	"github.com/n42blockchain/uopool/conf"
	"github.com/n42blockchain/uopool/log"
	"github.com/n42blockchain/uopool/pkg/errors"
)

// Mode is a bitset selecting which validation stages to run. The
// coordinator varies it per call: add_user_operation runs ModeAll, the
// bundle-assembly second pass runs Simulation|SimulationTrace only, and
// estimate_user_operation_gas never sets SimulationTrace.
type Mode uint8

const (
	ModeSanity Mode = 1 << iota
	ModeSignature
	ModeSimulation
	ModeSimulationTrace

	ModeAll = ModeSanity | ModeSignature | ModeSimulation | ModeSimulationTrace
)

// callGasFloor is G_NON_ZERO_VALUE_CALL: 21000 base plus the 9000
// non-zero-value-call stipend.
const callGasFloor uint64 = 21000 + 9000

var (
	admissionTotal  = metrics.NewCounter(`uopool_validator_admissions_total`)
	rejectionTotal  = metrics.NewCounter(`uopool_validator_rejections_total`)
	rejectSanity    = metrics.NewCounter(`uopool_validator_rejections_total{stage="sanity"}`)
	rejectSignature = metrics.NewCounter(`uopool_validator_rejections_total{stage="signature"}`)
	rejectTrace     = metrics.NewCounter(`uopool_validator_rejections_total{stage="trace"}`)
)

// ValidationOutcome is everything a successful (or partially successful)
// Validate call reports back to the caller: the op it displaces, the
// code hashes observed for the anti-mutation guard, the window in which
// the op becomes bundle-eligible, and the storage footprint the
// bundle-assembly conflict check needs.
type ValidationOutcome struct {
	PrevHash             *types.Hash
	CodeHashes           []CodeHash
	ValidAfter           uint64
	VerificationGasLimit uint64
	PreFund              *uint256.Int
	StorageMap           map[types.Address]struct{}
	VerifiedBlock        uint64
}

// Validator composes the sanity, signature, trace, and reputation-gating
// stages (spec.md §4.4) into a single Validate entry point. It is
// stateless with respect to the mempool: store and reputation are read
// to detect replacements and per-sender quotas, never mutated here.
type Validator struct {
	adapter    *EntryPointAdapter
	store      *Store
	reputation *Reputation
	cfg        conf.BundlerConfig
	clock      Clock
	log        log.Logger
}

// NewValidator builds a validator bound to one EntryPoint adapter, entity
// store, and reputation engine.
func NewValidator(adapter *EntryPointAdapter, store *Store, reputation *Reputation, cfg conf.BundlerConfig) *Validator {
	return &Validator{
		adapter:    adapter,
		store:      store,
		reputation: reputation,
		cfg:        cfg,
		clock:      SystemClock,
		log:        log.New("component", "validator"),
	}
}

// Validate runs the stages selected by mode against op, in isolation from
// mempool mutation.
func (v *Validator) Validate(ctx context.Context, op *UserOperationSigned, mode Mode, baseFee *uint256.Int) (*ValidationOutcome, error) {
	corr := uuid.NewString()
	l := v.log.New("corr", corr, "sender", op.Sender)
	outcome := &ValidationOutcome{VerificationGasLimit: op.VerificationGasLimit.Uint64()}

	if mode&ModeSanity != 0 {
		prevHash, err := v.sanityStage(ctx, op, baseFee)
		if err != nil {
			rejectSanity.Inc()
			rejectionTotal.Inc()
			l.Debug("sanity stage rejected user operation", "err", err)
			return nil, err
		}
		outcome.PrevHash = prevHash
	}

	var result *ValidationResult
	if mode&(ModeSignature|ModeSimulation|ModeSimulationTrace) != 0 {
		var err error
		result, err = v.adapter.SimulateValidation(ctx, op)
		if err != nil {
			rejectionTotal.Inc()
			l.Debug("simulateValidation reverted", "err", err)
			return nil, err
		}
		outcome.PreFund = result.PreFund
		// valid_after reflects simulateValidation's own reported activation
		// time regardless of which stages ran: bundle assembly re-validates
		// in Simulation|SimulationTrace mode only, and still needs this to
		// skip not-yet-active operations (spec's "future activation" rule).
		if result.ValidAfter > uint64(v.clock.Now().Unix()) {
			outcome.ValidAfter = result.ValidAfter
		}
	}

	if mode&ModeSignature != 0 {
		if err := v.signatureStage(result); err != nil {
			rejectSignature.Inc()
			rejectionTotal.Inc()
			l.Debug("signature stage rejected user operation", "err", err)
			return nil, err
		}
	}

	if mode&ModeSimulationTrace != 0 {
		frame, err := v.adapter.SimulateValidationTrace(ctx, op)
		if err != nil {
			rejectTrace.Inc()
			rejectionTotal.Inc()
			l.Debug("simulateValidationTrace failed", "err", err)
			return nil, err
		}

		opHash, err := UserOperationHash(op, v.adapter.Address(), v.adapter.ChainID())
		if err != nil {
			return nil, errors.Wrap(err, "compute user operation hash")
		}

		codeHashes, storageMap, err := v.traceStage(ctx, op, opHash, result, frame)
		if err != nil {
			rejectTrace.Inc()
			rejectionTotal.Inc()
			l.Debug("trace stage rejected user operation", "err", err)
			return nil, err
		}
		outcome.CodeHashes = codeHashes
		outcome.StorageMap = storageMap
	}

	if n, err := v.adapter.BlockNumber(ctx); err == nil {
		outcome.VerifiedBlock = n
	}

	admissionTotal.Inc()
	l.Debug("user operation passed validation", "mode", mode)
	return outcome, nil
}

// sanityStage runs §4.4.1's pre-network-call checks plus the
// sender-quota/replacement check (§4.4.4), returning the hash of a prior
// operation this one replaces, if any.
func (v *Validator) sanityStage(ctx context.Context, op *UserOperationSigned, baseFee *uint256.Int) (*types.Hash, error) {
	senderCode, err := v.adapter.GetCode(ctx, op.Sender)
	if err != nil {
		return nil, err
	}
	hasCode := len(senderCode) > 0
	hasInitCode := len(op.InitCode) > 0
	if hasCode == hasInitCode {
		return nil, errors.Wrapf(errors.ErrSenderOrInitCode, "sender %s has_code=%v has_init_code=%v", op.Sender, hasCode, hasInitCode)
	}

	if op.VerificationGasLimit.Uint64() > v.cfg.MaxVerificationGas {
		return nil, errors.Wrapf(errors.ErrHighVerificationGasLimit, "verification_gas_limit %s exceeds maximum %d", op.VerificationGasLimit, v.cfg.MaxVerificationGas)
	}

	pvg, err := CalcPreVerificationGas(op)
	if err != nil {
		return nil, errors.Wrap(err, "calc pre-verification gas")
	}
	if op.PreVerificationGas.Uint64() < pvg {
		return nil, errors.Wrapf(errors.ErrLowPreVerificationGas, "pre_verification_gas %s below required %d", op.PreVerificationGas, pvg)
	}

	if paymaster, ok := addressPrefix(op.PaymasterAndData); ok {
		if err := v.verifyPaymaster(ctx, op, paymaster); err != nil {
			return nil, err
		}
	}

	if op.CallGasLimit.Uint64() < callGasFloor {
		return nil, errors.Wrapf(errors.ErrLowCallGasLimit, "call_gas_limit %s below floor %d", op.CallGasLimit, callGasFloor)
	}

	if err := v.checkFeeCoherence(op, baseFee); err != nil {
		return nil, err
	}

	return v.senderQuotaAndReplacement(ctx, op)
}

// verifyPaymaster implements sanity check 4: a non-empty paymaster_and_data
// must name a deployed, funded, non-banned paymaster.
func (v *Validator) verifyPaymaster(ctx context.Context, op *UserOperationSigned, paymaster types.Address) error {
	code, err := v.adapter.GetCode(ctx, paymaster)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return errors.Wrapf(errors.ErrPaymasterVerification, "paymaster %s has no deployed code", paymaster)
	}

	info, err := v.adapter.GetDepositInfo(ctx, paymaster)
	if err != nil {
		return err
	}
	required := new(uint256.Int).Mul(op.MaxFeePerGas, op.VerificationGasLimit)
	if info.Deposit == nil || info.Deposit.Lt(required) {
		return errors.Wrapf(errors.ErrPaymasterVerification, "paymaster %s deposit below required prefund %s", paymaster, required)
	}

	if v.reputation.GetStatus(paymaster) == StatusBanned {
		return errors.Wrapf(errors.ErrBannedEntity, "paymaster %s is banned", paymaster)
	}
	return nil
}

// checkFeeCoherence implements sanity check 6.
func (v *Validator) checkFeeCoherence(op *UserOperationSigned, baseFee *uint256.Int) error {
	if op.MaxPriorityFeePerGas.Gt(op.MaxFeePerGas) {
		return errors.Wrapf(errors.ErrHighMaxPriorityFeePerGas, "max_priority_fee_per_gas %s exceeds max_fee_per_gas %s", op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	}

	if baseFee != nil {
		floor := new(uint256.Int).Add(baseFee, op.MaxPriorityFeePerGas)
		if op.MaxFeePerGas.Lt(floor) {
			return errors.Wrapf(errors.ErrLowMaxFeePerGas, "max_fee_per_gas %s below base_fee+priority_fee %s", op.MaxFeePerGas, floor)
		}
	}

	if op.MaxPriorityFeePerGas.Uint64() < v.cfg.MinPriorityFeePerGas {
		return errors.Wrapf(errors.ErrLowMaxPriorityFeePerGas, "max_priority_fee_per_gas %s below minimum %d", op.MaxPriorityFeePerGas, v.cfg.MinPriorityFeePerGas)
	}
	return nil
}

// senderQuotaAndReplacement implements §4.4.4.
func (v *Validator) senderQuotaAndReplacement(ctx context.Context, op *UserOperationSigned) (*types.Hash, error) {
	n := v.store.CountBySender(op.Sender)
	if n == 0 {
		return nil, nil
	}

	if prev, ok := v.store.GetPrevBySender(op); ok {
		feeBumped := MeetsFeeBump(op.MaxFeePerGas.Uint64(), prev.Signed.MaxFeePerGas.Uint64())
		priorityBumped := MeetsFeeBump(op.MaxPriorityFeePerGas.Uint64(), prev.Signed.MaxPriorityFeePerGas.Uint64())
		if !feeBumped || !priorityBumped {
			return nil, errors.Wrapf(errors.ErrSenderVerification, "replacement at (sender %s, nonce %s) does not clear the %d%% fee bump", op.Sender, op.Nonce, GasIncreasePercent)
		}
		h := prev.Hash
		return &h, nil
	}

	if n < v.cfg.MaxUOsPerUnstakedSender {
		return nil, nil
	}

	info, err := v.adapter.GetDepositInfo(ctx, op.Sender)
	if err != nil {
		return nil, err
	}
	if err := v.reputation.VerifyStake("account", info); err != nil {
		return nil, errors.Wrapf(errors.ErrSenderVerification, "unstaked sender %s already has %d pending operations: %v", op.Sender, n, err)
	}
	return nil, nil
}

// signatureStage implements §4.4.2: the signature and expiry checks.
// A not-yet-active operation (valid_after in the future) is not itself
// a rejection here — add_user_operation admits it into the mempool and
// bundle assembly is what skips it until its activation time arrives
// (outcome.ValidAfter, set whenever simulation ran and valid_after is
// still in the future).
func (v *Validator) signatureStage(result *ValidationResult) error {
	if result.SigFailed {
		return errors.Wrap(errors.ErrSignatureCheck, "simulateValidation reported a signature failure")
	}

	now := uint64(v.clock.Now().Unix())
	expirationWindow := uint64(v.cfg.ExpirationTimestampDiff.Seconds())
	if result.ValidUntil != 0 && result.ValidUntil <= now+expirationWindow {
		return errors.Wrapf(errors.ErrExpiration, "valid_until %d within %ds of now %d", result.ValidUntil, expirationWindow, now)
	}
	return nil
}

// depositToSelector is the 4-byte selector of EntryPoint.depositTo(address),
// the only method the trace stage permits a call into the EntryPoint
// during validation to invoke (rule R6).
var depositToSelector = strings.ToLower(gethcommon.Bytes2Hex(crypto.Keccak256([]byte("depositTo(address)"))[:4]))

// traceStage implements §4.4.3's rules R1-R7 against the tracer frame
// produced by SimulateValidationTrace, returning the code hashes to
// persist (R7) and the storage footprint the bundle-assembly
// conflict-detection check consumes.
func (v *Validator) traceStage(ctx context.Context, op *UserOperationSigned, opHash types.Hash, result *ValidationResult, frame *JsTracerFrame) ([]CodeHash, map[types.Address]struct{}, error) {
	entities := v.entityFrameOrder(op)
	if len(frame.CallsFromEntryPoint) != len(entities) {
		return nil, nil, errors.Wrapf(errors.ErrCallStack, "expected %d top-level entity frames, tracer observed %d", len(entities), len(frame.CallsFromEntryPoint))
	}

	senderAssociated := associatedSlots(strings.ToLower(op.Sender.Hex()), frame.Keccak)
	storageMap := make(map[types.Address]struct{})

	if err := checkCreate2Quota(frame.CallsFromEntryPoint, entities); err != nil {
		return nil, nil, err
	}

	for i, f := range frame.CallsFromEntryPoint {
		entity := entities[i]

		if err := checkOutOfGas(f); err != nil {
			return nil, nil, err
		}
		if err := checkForbiddenOpcodes(f); err != nil {
			return nil, nil, errors.Wrap(err, entity.Kind.String())
		}
		if err := checkExtCodeAccess(f, f.ContractSize); err != nil {
			return nil, nil, errors.Wrap(err, entity.Kind.String())
		}

		if err := v.checkFrameStorageAccess(ctx, op, entity, f, senderAssociated); err != nil {
			return nil, nil, err
		}

		for addrHex := range f.Access {
			storageMap[types.HexToAddress(addrHex)] = struct{}{}
		}
		for addrHex := range f.ContractSize {
			storageMap[types.HexToAddress(addrHex)] = struct{}{}
		}
	}

	if err := v.checkCallStack(ctx, frame, op, result); err != nil {
		return nil, nil, err
	}

	codeHashes, err := v.computeCodeHashes(ctx, frame)
	if err != nil {
		return nil, nil, err
	}
	if prev, ok := v.store.CodeHashes(opHash); ok {
		if !codeHashesEqual(prev, codeHashes) {
			return nil, nil, errors.Wrap(errors.ErrCodeHashes, "entity code changed since the first simulation")
		}
	}

	return codeHashes, storageMap, nil
}

// entityFrameOrder returns the entities EntryPoint invokes during
// simulateValidation, in call order: factory (if deploying), account,
// paymaster (if present) — the same order the tracer's
// callsFromEntryPoint array is populated in.
func (v *Validator) entityFrameOrder(op *UserOperationSigned) []Entity {
	var out []Entity
	if factory, ok := op.factoryAddr(); ok {
		out = append(out, Entity{Kind: EntityFactory, Address: factory})
	}
	out = append(out, Entity{Kind: EntitySender, Address: op.Sender})
	if paymaster, ok := op.paymasterAddr(); ok {
		out = append(out, Entity{Kind: EntityPaymaster, Address: paymaster})
	}
	return out
}

// checkFrameStorageAccess implements rule R5 for every (addr, slot) the
// frame touched. checkStorageAccess (tracer.go) covers the common case of
// an entity reading or writing its own storage or the sender's directly
// keyed slot; anything it rejects falls through to the slot-level
// association analysis, which may still be allowed if the entity (or the
// deploying factory) is staked.
func (v *Validator) checkFrameStorageAccess(ctx context.Context, op *UserOperationSigned, entity Entity, f TopLevelCallInfo, senderAssociated map[string]struct{}) error {
	entryPointHex := strings.ToLower(v.adapter.Address().Hex())
	entityHex := strings.ToLower(entity.Address.Hex())
	entityAssociated := associatedSlots(entityHex, nil)

	for ownerHex, rw := range f.Access {
		owner := strings.ToLower(ownerHex)
		if owner == entryPointHex {
			continue
		}
		if checkStorageAccess(entityHex, owner, senderAssociated) == nil {
			continue
		}

		slots := make(map[string]struct{}, len(rw.Reads)+len(rw.Writes))
		for slot := range rw.Reads {
			slots[slot] = struct{}{}
		}
		for slot := range rw.Writes {
			slots[slot] = struct{}{}
		}

		for slot := range slots {
			if _, ok := senderAssociated[slot]; ok {
				if len(op.InitCode) == 0 {
					continue // already-deployed account: always allowed
				}
				factory, _ := op.factoryAddr()
				info, err := v.adapter.GetDepositInfo(ctx, factory)
				if err != nil {
					return err
				}
				if err := v.reputation.VerifyStake("factory", info); err != nil {
					return errors.Wrapf(errors.ErrUnstaked, "entity %s: %v", entity.Kind, err)
				}
				continue
			}

			if _, ok := entityAssociated[slot]; ok {
				info, err := v.adapter.GetDepositInfo(ctx, entity.Address)
				if err != nil {
					return err
				}
				if err := v.reputation.VerifyStake(entity.Kind.String(), info); err != nil {
					return errors.Wrapf(errors.ErrUnstaked, "entity %s: %v", entity.Kind, err)
				}
				continue
			}

			return errors.Wrapf(errors.ErrStorageAccess, "entity %s accessed unassociated slot %s at %s", entity.Kind, slot, ownerHex)
		}
	}
	return nil
}

// checkCallStack implements rule R6.
func (v *Validator) checkCallStack(ctx context.Context, frame *JsTracerFrame, op *UserOperationSigned, result *ValidationResult) error {
	entryPointHex := strings.ToLower(v.adapter.Address().Hex())
	for _, call := range frame.Calls {
		if call.To == nil || call.Method == nil {
			continue
		}
		if strings.ToLower(*call.To) != entryPointHex {
			continue
		}
		method := strings.TrimPrefix(strings.ToLower(*call.Method), "0x")
		if method != depositToSelector {
			return errors.Wrapf(errors.ErrCallStack, "call into entrypoint %s with non-depositTo selector %s", entryPointHex, method)
		}
	}

	if paymaster, ok := op.paymasterAddr(); ok && len(result.PaymasterContext) > 0 {
		info, err := v.adapter.GetDepositInfo(ctx, paymaster)
		if err != nil {
			return err
		}
		if err := v.reputation.VerifyStake("paymaster", info); err != nil {
			return errors.Wrapf(errors.ErrUnstaked, "paymaster returned a validation context while unstaked: %v", err)
		}
	}
	return nil
}

// computeCodeHashes implements the first half of rule R7: keccak256 of
// the deployed code at every address the tracer observed through
// contract_size.
func (v *Validator) computeCodeHashes(ctx context.Context, frame *JsTracerFrame) ([]CodeHash, error) {
	seen := make(map[types.Address]bool)
	var out []CodeHash
	for _, f := range frame.CallsFromEntryPoint {
		for addrHex := range f.ContractSize {
			addr := types.HexToAddress(addrHex)
			if seen[addr] {
				continue
			}
			seen[addr] = true
			h, err := v.adapter.GetCodeHash(ctx, addr)
			if err != nil {
				return nil, err
			}
			out = append(out, CodeHash{Address: addr, Hash: h})
		}
	}
	return out, nil
}

// codeHashesEqual reports whether a and b name the same set of
// (address, hash) pairs, regardless of order — the multiset-equality
// check rule R7 requires between the first and second simulation.
func codeHashesEqual(a, b []CodeHash) bool {
	if len(a) != len(b) {
		return false
	}
	byAddr := make(map[types.Address]types.Hash, len(a))
	for _, ch := range a {
		byAddr[ch.Address] = ch.Hash
	}
	for _, ch := range b {
		h, ok := byAddr[ch.Address]
		if !ok || h != ch.Hash {
			return false
		}
	}
	return true
}

func (op *UserOperationSigned) factoryAddr() (types.Address, bool)   { return addressPrefix(op.InitCode) }
func (op *UserOperationSigned) paymasterAddr() (types.Address, bool) { return addressPrefix(op.PaymasterAndData) }
