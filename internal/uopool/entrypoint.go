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
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	uotypes "github.com/n42blockchain/uopool/common/types"
	"github.com/n42blockchain/uopool/pkg/errors"
)

// entryPointABI is the slice of the EntryPoint ABI the adapter actually
// calls: simulateValidation, simulateHandleOp, getDepositInfo, balanceOf
// and handleOps (the last one only for decoding, never for sending).
const entryPointABI = `[
	{"type":"function","name":"simulateValidation","stateMutability":"nonpayable","inputs":[{"name":"userOp","type":"tuple","components":[
		{"name":"sender","type":"address"},{"name":"nonce","type":"uint256"},{"name":"initCode","type":"bytes"},
		{"name":"callData","type":"bytes"},{"name":"callGasLimit","type":"uint256"},{"name":"verificationGasLimit","type":"uint256"},
		{"name":"preVerificationGas","type":"uint256"},{"name":"maxFeePerGas","type":"uint256"},{"name":"maxPriorityFeePerGas","type":"uint256"},
		{"name":"paymasterAndData","type":"bytes"},{"name":"signature","type":"bytes"}]}],"outputs":[]},
	{"type":"function","name":"getDepositInfo","stateMutability":"view","inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"info","type":"tuple","components":[
			{"name":"deposit","type":"uint112"},{"name":"staked","type":"bool"},{"name":"stake","type":"uint112"},
			{"name":"unstakeDelaySec","type":"uint32"},{"name":"withdrawTime","type":"uint64"}]}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"handleOps","stateMutability":"nonpayable","inputs":[
		{"name":"ops","type":"tuple[]","components":[
			{"name":"sender","type":"address"},{"name":"nonce","type":"uint256"},{"name":"initCode","type":"bytes"},
			{"name":"callData","type":"bytes"},{"name":"callGasLimit","type":"uint256"},{"name":"verificationGasLimit","type":"uint256"},
			{"name":"preVerificationGas","type":"uint256"},{"name":"maxFeePerGas","type":"uint256"},{"name":"maxPriorityFeePerGas","type":"uint256"},
			{"name":"paymasterAndData","type":"bytes"},{"name":"signature","type":"bytes"}]},
		{"name":"beneficiary","type":"address"}],"outputs":[]},
	{"type":"function","name":"simulateHandleOp","stateMutability":"nonpayable","inputs":[
		{"name":"op","type":"tuple","components":[
			{"name":"sender","type":"address"},{"name":"nonce","type":"uint256"},{"name":"initCode","type":"bytes"},
			{"name":"callData","type":"bytes"},{"name":"callGasLimit","type":"uint256"},{"name":"verificationGasLimit","type":"uint256"},
			{"name":"preVerificationGas","type":"uint256"},{"name":"maxFeePerGas","type":"uint256"},{"name":"maxPriorityFeePerGas","type":"uint256"},
			{"name":"paymasterAndData","type":"bytes"},{"name":"signature","type":"bytes"}]},
		{"name":"target","type":"address"},{"name":"targetCallData","type":"bytes"}],"outputs":[]},
	{"type":"error","name":"FailedOp","inputs":[{"name":"opIndex","type":"uint256"},{"name":"reason","type":"string"}]},
	{"type":"error","name":"ValidationResult","inputs":[
		{"name":"returnInfo","type":"tuple","components":[
			{"name":"preOpGas","type":"uint256"},{"name":"prefund","type":"uint256"},{"name":"sigFailed","type":"bool"},
			{"name":"validAfter","type":"uint48"},{"name":"validUntil","type":"uint48"},{"name":"paymasterContext","type":"bytes"}]},
		{"name":"senderInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]},
		{"name":"factoryInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]},
		{"name":"paymasterInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]}]},
	{"type":"error","name":"ValidationResultWithAggregation","inputs":[
		{"name":"returnInfo","type":"tuple","components":[
			{"name":"preOpGas","type":"uint256"},{"name":"prefund","type":"uint256"},{"name":"sigFailed","type":"bool"},
			{"name":"validAfter","type":"uint48"},{"name":"validUntil","type":"uint48"},{"name":"paymasterContext","type":"bytes"}]},
		{"name":"senderInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]},
		{"name":"factoryInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]},
		{"name":"paymasterInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]},
		{"name":"aggregatorInfo","type":"tuple","components":[
			{"name":"aggregator","type":"address"},
			{"name":"stakeInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]}]}]},
	{"type":"error","name":"ExecutionResult","inputs":[
		{"name":"preOpGas","type":"uint256"},{"name":"paid","type":"uint256"},
		{"name":"validAfter","type":"uint48"},{"name":"validUntil","type":"uint48"},
		{"name":"targetSuccess","type":"bool"},{"name":"targetResult","type":"bytes"}]},
	{"type":"event","name":"UserOperationEvent","inputs":[
		{"name":"userOpHash","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},
		{"name":"paymaster","type":"address","indexed":true},{"name":"nonce","type":"uint256"},
		{"name":"success","type":"bool"},{"name":"actualGasCost","type":"uint256"},{"name":"actualGasUsed","type":"uint256"}]},
	{"type":"event","name":"AccountDeployed","inputs":[
		{"name":"userOpHash","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},
		{"name":"factory","type":"address"},{"name":"paymaster","type":"address"}]},
	{"type":"event","name":"SignatureAggregatorChanged","inputs":[{"name":"aggregator","type":"address","indexed":true}]}
]`

// rpcCacheTTL bounds how long a getDepositInfo result is trusted before
// the adapter re-fetches it from the node. No other RPC result is cached.
const rpcCacheTTL = 2 * time.Second

type cachedDeposit struct {
	info      StakeInfo
	fetchedAt time.Time
}

// EntryPointAdapter is a typed wrapper over one on-chain EntryPoint
// contract: it never mutates chain state, only simulates and reads.
// Every reverting contract error (the contract is designed to always
// revert on simulateValidation) is decoded into a typed ValidationResult
// or a FailedOp error — never silently treated as success.
type EntryPointAdapter struct {
	client  *ethclient.Client
	rpc     *rpc.Client
	address uotypes.Address
	chainID uint64
	abi     abi.ABI

	depositCache *lru.Cache[uotypes.Address, cachedDeposit]
	clock        Clock
}

// NewEntryPointAdapter builds an adapter bound to a single EntryPoint
// contract over an already-dialed JSON-RPC client.
func NewEntryPointAdapter(rpcClient *rpc.Client, entryPoint uotypes.Address, chainID uint64) (*EntryPointAdapter, error) {
	parsed, err := abi.JSON(strings.NewReader(entryPointABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse entrypoint abi")
	}
	cache, err := lru.New[uotypes.Address, cachedDeposit](1024)
	if err != nil {
		return nil, errors.Wrap(err, "allocate deposit cache")
	}

	return &EntryPointAdapter{
		client:       ethclient.NewClient(rpcClient),
		rpc:          rpcClient,
		address:      entryPoint,
		chainID:      chainID,
		abi:          parsed,
		depositCache: cache,
		clock:        SystemClock,
	}, nil
}

// Address returns the EntryPoint contract address this adapter is bound
// to, used to compute UserOperationHash and to match the EntryPoint
// against the trace stage's call-stack recipients (rule R6).
func (e *EntryPointAdapter) Address() uotypes.Address { return e.address }

// ChainID returns the chain id mixed into UserOperationHash.
func (e *EntryPointAdapter) ChainID() uint64 { return e.chainID }

// ValidationResult is the decoded, non-reverted outcome of
// simulateValidation: per-entity stake info, the signature aggregator
// the operation requires (if any), and the fields the signature/
// timestamp stage (validator.go) reads to decide admission.
type ValidationResult struct {
	SenderInfo    StakeInfo
	FactoryInfo   *StakeInfo
	PaymasterInfo *StakeInfo
	Aggregator    *uotypes.Address

	PreOpGas         *uint256.Int
	PreFund          *uint256.Int
	SigFailed        bool
	ValidAfter       uint64 // unix seconds, 0 = no lower bound
	ValidUntil       uint64 // unix seconds, 0 = no expiry
	PaymasterContext []byte
}

// SimulateValidation calls simulateValidation(op) and decodes the
// result. The call always reverts on-chain (this is how the contract
// returns data without mutating state); a revert whose selector is
// ValidationResult(...) or ValidationResultWithAggregation(...) is
// success, FailedOp(...) is a rejected operation, and anything else is
// an adapter-level error.
func (e *EntryPointAdapter) SimulateValidation(ctx context.Context, op *UserOperationSigned) (*ValidationResult, error) {
	data, err := e.abi.Pack("simulateValidation", userOpTuple(op))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecode, "pack simulateValidation: %v", err)
	}

	_, callErr := e.client.CallContract(ctx, ethereum.CallMsg{
		To:   entryPointAddr(e.address),
		Data: data,
	}, nil)
	if callErr == nil {
		// simulateValidation is specified to always revert; a clean
		// return means the node or contract didn't behave as expected.
		return nil, errors.Wrap(errors.ErrUnknown, "simulateValidation returned without reverting")
	}

	revertData, ok := decodeRevertData(callErr)
	if !ok {
		return nil, classifyTransportError(callErr)
	}

	if reason, isFailedOp := e.decodeFailedOp(revertData); isFailedOp {
		return nil, errors.Wrapf(errors.ErrValidation, "FailedOp: %s", reason)
	}
	if result, ok := e.decodeValidationResult(op, revertData); ok {
		return result, nil
	}
	if result, ok := e.decodeValidationResultWithAggregation(op, revertData); ok {
		return result, nil
	}

	return nil, errors.Wrap(errors.ErrDecode, "simulateValidation reverted with an undecodable payload")
}

// SimulateValidationTrace re-runs simulateValidation under the embedded
// JS tracer via debug_traceCall, returning the raw tracer frame for the
// trace stage (tracer.go) to interpret.
func (e *EntryPointAdapter) SimulateValidationTrace(ctx context.Context, op *UserOperationSigned) (*JsTracerFrame, error) {
	data, err := e.abi.Pack("simulateValidation", userOpTuple(op))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecode, "pack simulateValidation: %v", err)
	}

	callArgs := map[string]interface{}{
		"to":   e.address.Hex(),
		"data": gethcommon.Bytes2Hex(data),
	}
	traceArgs := map[string]interface{}{
		"tracer": jsTracerSource,
	}

	var raw interface{}
	if err := e.rpc.CallContext(ctx, &raw, "debug_traceCall", callArgs, "latest", traceArgs); err != nil {
		return nil, classifyTransportError(err)
	}

	frame, err := decodeJsTracerFrame(raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecode, "decode tracer frame: %v", err)
	}
	return frame, nil
}

// BalanceOf returns account's ETH balance as tracked by the EntryPoint
// deposit ledger (not its on-chain wei balance).
func (e *EntryPointAdapter) BalanceOf(ctx context.Context, account uotypes.Address) (*uint256.Int, error) {
	data, err := e.abi.Pack("balanceOf", account.ToGeth())
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecode, "pack balanceOf: %v", err)
	}

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: entryPointAddr(e.address), Data: data}, nil)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	values, err := e.abi.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, errors.Wrapf(errors.ErrDecode, "unpack balanceOf: %v", err)
	}
	balance := values[0].(*big.Int)
	v, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, errors.Wrap(errors.ErrDecode, "balanceOf overflowed uint256")
	}
	return v, nil
}

// GetDepositInfo returns account's stake/deposit info, memoized for
// rpcCacheTTL to keep repeated reputation checks within one bundling
// pass from hammering the node.
func (e *EntryPointAdapter) GetDepositInfo(ctx context.Context, account uotypes.Address) (*StakeInfo, error) {
	if cached, ok := e.depositCache.Get(account); ok && e.clock.Now().Sub(cached.fetchedAt) < rpcCacheTTL {
		info := cached.info
		return &info, nil
	}

	data, err := e.abi.Pack("getDepositInfo", account.ToGeth())
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecode, "pack getDepositInfo: %v", err)
	}

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: entryPointAddr(e.address), Data: data}, nil)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	values, err := e.abi.Unpack("getDepositInfo", out)
	if err != nil || len(values) != 1 {
		return nil, errors.Wrapf(errors.ErrDecode, "unpack getDepositInfo: %v", err)
	}

	depositInfo := values[0].(struct {
		Deposit         *big.Int
		Staked          bool
		Stake           *big.Int
		UnstakeDelaySec uint32
		WithdrawTime    uint64
	})

	deposit, _ := uint256.FromBig(depositInfo.Deposit)
	stake, _ := uint256.FromBig(depositInfo.Stake)
	info := StakeInfo{Address: account, Deposit: deposit, Stake: stake, UnstakeDelay: uint64(depositInfo.UnstakeDelaySec)}
	e.depositCache.Add(account, cachedDeposit{info: info, fetchedAt: e.clock.Now()})
	return &info, nil
}

// GetCode returns the deployed bytecode at account, used by the
// sanity stage's sender/init_code XOR check and paymaster-deployed
// check, and by the trace stage's code-hash anti-mutation guard.
func (e *EntryPointAdapter) GetCode(ctx context.Context, account uotypes.Address) ([]byte, error) {
	code, err := e.client.CodeAt(ctx, account.ToGeth(), nil)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return code, nil
}

// GetCodeHash returns keccak256(getCode(account)), the per-address
// fingerprint the second simulation pass compares against the first
// (trace rule R7).
func (e *EntryPointAdapter) GetCodeHash(ctx context.Context, account uotypes.Address) (uotypes.Hash, error) {
	code, err := e.GetCode(ctx, account)
	if err != nil {
		return uotypes.Hash{}, err
	}
	return uotypes.BytesToHash(crypto.Keccak256(code)), nil
}

// BlockNumber returns the current chain tip, used by
// get_user_operation_by_hash/_receipt to bound the FILTER_MAX_DEPTH log
// scan, and by the bundle-assembly staleness check (§9 "second
// simulation timing").
func (e *EntryPointAdapter) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := e.client.BlockNumber(ctx)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	return n, nil
}

// BaseFee returns the latest block's base fee, the sanity stage's
// fee-coherence check uses it to reject an underpriced max_fee_per_gas.
func (e *EntryPointAdapter) BaseFee(ctx context.Context) (*uint256.Int, error) {
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if header.BaseFee == nil {
		return uint256.NewInt(0), nil
	}
	v, overflow := uint256.FromBig(header.BaseFee)
	if overflow {
		return nil, errors.Wrap(errors.ErrDecode, "base fee overflowed uint256")
	}
	return v, nil
}

// EstimatedGas is the decoded result of simulateHandleOp.
//
// SimulateHandleOp calls simulateHandleOp(op, target, targetCallData)
// and decodes its ExecutionResult revert payload, exactly like
// SimulateValidation decodes ValidationResult: the call is designed to
// always revert, carrying its result in the revert reason rather than a
// return value. target is the zero address and targetCallData is empty,
// so the contract runs the operation's validation and execution phases
// without also simulating a post-execution target call.
func (e *EntryPointAdapter) SimulateHandleOp(ctx context.Context, op *UserOperationSigned) (*EstimatedGas, error) {
	data, err := e.abi.Pack("simulateHandleOp", userOpTuple(op), gethcommon.Address{}, []byte{})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecode, "pack simulateHandleOp: %v", err)
	}

	_, callErr := e.client.CallContract(ctx, ethereum.CallMsg{To: entryPointAddr(e.address), Data: data}, nil)
	if callErr == nil {
		return nil, errors.Wrap(errors.ErrUnknown, "simulateHandleOp returned without reverting")
	}

	revertData, ok := decodeRevertData(callErr)
	if !ok {
		return nil, classifyTransportError(callErr)
	}
	if reason, isFailedOp := e.decodeFailedOp(revertData); isFailedOp {
		return nil, errors.Wrapf(errors.ErrExecution, "FailedOp: %s", reason)
	}

	result, ok := e.decodeExecutionResult(revertData)
	if !ok {
		return nil, errors.Wrap(errors.ErrDecode, "simulateHandleOp reverted with an undecodable payload")
	}
	return result, nil
}

// FilterUserOperationEvents scans EntryPoint event logs between
// fromBlock and toBlock (inclusive) for UserOperationEvent, used by
// get_user_operation_by_hash/_receipt (spec.md §4.5, §6).
func (e *EntryPointAdapter) FilterUserOperationEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	event, ok := e.abi.Events["UserOperationEvent"]
	if !ok {
		return nil, errors.Wrap(errors.ErrUnknown, "UserOperationEvent not found in entrypoint abi")
	}

	logs, err := e.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []gethcommon.Address{e.address.ToGeth()},
		Topics:    [][]gethcommon.Hash{{event.ID}},
	})
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return logs, nil
}

// TransactionByHash returns the transaction identified by hash, used to
// recover a UserOperationEvent's enclosing handleOps calldata.
func (e *EntryPointAdapter) TransactionByHash(ctx context.Context, hash gethcommon.Hash) (*types.Transaction, bool, error) {
	tx, pending, err := e.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, false, classifyTransportError(err)
	}
	return tx, pending, nil
}

// TransactionReceipt returns the receipt for hash.
func (e *EntryPointAdapter) TransactionReceipt(ctx context.Context, hash gethcommon.Hash) (*types.Receipt, error) {
	receipt, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return receipt, nil
}

// ParseFromInputData decodes a handleOps(ops, beneficiary) calldata
// back into its operations, used to resolve a user operation hash back
// to the operation that produced it for receipt lookup.
func (e *EntryPointAdapter) ParseFromInputData(input []byte) ([]*UserOperationSigned, error) {
	if len(input) < 4 {
		return nil, errors.Wrap(errors.ErrDecode, "input data too short to carry a selector")
	}
	method, err := e.abi.MethodById(input[:4])
	if err != nil || method.Name != "handleOps" {
		return nil, errors.Wrap(errors.ErrDecode, "input data is not a handleOps call")
	}

	values, err := method.Inputs.Unpack(input[4:])
	if err != nil || len(values) != 2 {
		return nil, errors.Wrapf(errors.ErrDecode, "unpack handleOps input: %v", err)
	}

	type rawUserOp = struct {
		Sender               gethcommon.Address
		Nonce                *big.Int
		InitCode             []byte
		CallData             []byte
		CallGasLimit         *big.Int
		VerificationGasLimit *big.Int
		PreVerificationGas   *big.Int
		MaxFeePerGas         *big.Int
		MaxPriorityFeePerGas *big.Int
		PaymasterAndData     []byte
		Signature            []byte
	}

	rawOps, ok := values[0].([]rawUserOp)
	if !ok {
		return nil, errors.Wrap(errors.ErrDecode, "unexpected handleOps argument shape")
	}

	ops := make([]*UserOperationSigned, 0, len(rawOps))
	for _, r := range rawOps {
		nonce, _ := uint256.FromBig(r.Nonce)
		callGas, _ := uint256.FromBig(r.CallGasLimit)
		verGas, _ := uint256.FromBig(r.VerificationGasLimit)
		preVerGas, _ := uint256.FromBig(r.PreVerificationGas)
		maxFee, _ := uint256.FromBig(r.MaxFeePerGas)
		maxPriority, _ := uint256.FromBig(r.MaxPriorityFeePerGas)

		ops = append(ops, &UserOperationSigned{
			Sender:               uotypes.AddressFromGeth(r.Sender),
			Nonce:                nonce,
			InitCode:             r.InitCode,
			CallData:             r.CallData,
			CallGasLimit:         callGas,
			VerificationGasLimit: verGas,
			PreVerificationGas:   preVerGas,
			MaxFeePerGas:         maxFee,
			MaxPriorityFeePerGas: maxPriority,
			PaymasterAndData:     r.PaymasterAndData,
			Signature:            r.Signature,
		})
	}
	return ops, nil
}

// returnInfoTuple, stakeInfoTuple and aggregatorStakeInfoTuple mirror the
// ABI tuple shapes of ValidationResult/ValidationResultWithAggregation's
// ReturnInfo/StakeInfo/AggregatorStakeInfo structs. They are type
// aliases, not named types, so a decoded value's dynamic type (the
// anonymous struct go-ethereum's abi package synthesizes from the ABI
// component names) type-asserts against them successfully — the same
// pattern rawUserOp and GetDepositInfo's inline struct already use.
type returnInfoTuple = struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       uint64
	ValidUntil       uint64
	PaymasterContext []byte
}

type stakeInfoTuple = struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

type aggregatorStakeInfoTuple = struct {
	Aggregator gethcommon.Address
	StakeInfo  stakeInfoTuple
}

// matchError reports whether revertData's leading 4-byte selector names
// the ABI error errName, returning its decoded arguments if so.
func (e *EntryPointAdapter) matchError(errName string, revertData []byte) ([]interface{}, bool) {
	def, ok := e.abi.Errors[errName]
	if !ok || len(revertData) < 4 {
		return nil, false
	}
	if gethcommon.Bytes2Hex(revertData[:4]) != gethcommon.Bytes2Hex(def.ID.Bytes()[:4]) {
		return nil, false
	}
	values, err := def.Inputs.Unpack(revertData[4:])
	if err != nil {
		return nil, false
	}
	return values, true
}

// decodeFailedOp reports whether revertData is a FailedOp(uint256,string)
// revert, returning its reason string.
func (e *EntryPointAdapter) decodeFailedOp(revertData []byte) (string, bool) {
	values, ok := e.matchError("FailedOp", revertData)
	if !ok || len(values) != 2 {
		return "", false
	}
	reason, _ := values[1].(string)
	return reason, true
}

// stakeInfoFrom converts a decoded StakeInfo tuple into a StakeInfo,
// tagging it with addr (the tuple itself carries no address: the
// EntryPoint ABI returns stake info positionally, one per entity slot).
func stakeInfoFrom(addr uotypes.Address, t stakeInfoTuple) StakeInfo {
	stake, _ := uint256.FromBig(t.Stake)
	var unstakeDelay uint64
	if t.UnstakeDelaySec != nil {
		unstakeDelay = t.UnstakeDelaySec.Uint64()
	}
	return StakeInfo{Address: addr, Stake: stake, UnstakeDelay: unstakeDelay}
}

// validationResultFromReturnInfo builds the common fields of
// ValidationResult shared by ValidationResult and
// ValidationResultWithAggregation's decoding, before the aggregation
// variant additionally fills in Aggregator.
func validationResultFromReturnInfo(op *UserOperationSigned, ri returnInfoTuple) *ValidationResult {
	preOpGas, _ := uint256.FromBig(ri.PreOpGas)
	preFund, _ := uint256.FromBig(ri.Prefund)
	return &ValidationResult{
		SenderInfo:       StakeInfo{Address: op.Sender},
		PreOpGas:         preOpGas,
		PreFund:          preFund,
		SigFailed:        ri.SigFailed,
		ValidAfter:       ri.ValidAfter,
		ValidUntil:       ri.ValidUntil,
		PaymasterContext: ri.PaymasterContext,
	}
}

// decodeValidationResult reports whether revertData is a
// ValidationResult(...) revert (simulateValidation's non-aggregated
// success path), decoding its ReturnInfo and per-entity StakeInfo.
func (e *EntryPointAdapter) decodeValidationResult(op *UserOperationSigned, revertData []byte) (*ValidationResult, bool) {
	values, ok := e.matchError("ValidationResult", revertData)
	if !ok || len(values) != 4 {
		return nil, false
	}
	returnInfo, ok1 := values[0].(returnInfoTuple)
	senderInfo, ok2 := values[1].(stakeInfoTuple)
	factoryInfo, ok3 := values[2].(stakeInfoTuple)
	paymasterInfo, ok4 := values[3].(stakeInfoTuple)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, false
	}

	result := validationResultFromReturnInfo(op, returnInfo)
	result.SenderInfo = stakeInfoFrom(op.Sender, senderInfo)
	if factory, ok := op.factoryAddr(); ok {
		fi := stakeInfoFrom(factory, factoryInfo)
		result.FactoryInfo = &fi
	}
	if paymaster, ok := op.paymasterAddr(); ok {
		pi := stakeInfoFrom(paymaster, paymasterInfo)
		result.PaymasterInfo = &pi
	}
	return result, true
}

// decodeValidationResultWithAggregation reports whether revertData is a
// ValidationResultWithAggregation(...) revert, the success path taken
// when the operation names a signature aggregator (spec's "Aggregated
// signatures" open question: validate-only, never bundled).
func (e *EntryPointAdapter) decodeValidationResultWithAggregation(op *UserOperationSigned, revertData []byte) (*ValidationResult, bool) {
	values, ok := e.matchError("ValidationResultWithAggregation", revertData)
	if !ok || len(values) != 5 {
		return nil, false
	}
	returnInfo, ok1 := values[0].(returnInfoTuple)
	senderInfo, ok2 := values[1].(stakeInfoTuple)
	factoryInfo, ok3 := values[2].(stakeInfoTuple)
	paymasterInfo, ok4 := values[3].(stakeInfoTuple)
	aggregatorInfo, ok5 := values[4].(aggregatorStakeInfoTuple)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, false
	}

	result := validationResultFromReturnInfo(op, returnInfo)
	result.SenderInfo = stakeInfoFrom(op.Sender, senderInfo)
	if factory, ok := op.factoryAddr(); ok {
		fi := stakeInfoFrom(factory, factoryInfo)
		result.FactoryInfo = &fi
	}
	if paymaster, ok := op.paymasterAddr(); ok {
		pi := stakeInfoFrom(paymaster, paymasterInfo)
		result.PaymasterInfo = &pi
	}
	aggregator := uotypes.AddressFromGeth(aggregatorInfo.Aggregator)
	result.Aggregator = &aggregator
	return result, true
}

// decodeExecutionResult reports whether revertData is an
// ExecutionResult(...) revert, simulateHandleOp's success path.
func (e *EntryPointAdapter) decodeExecutionResult(revertData []byte) (*EstimatedGas, bool) {
	values, ok := e.matchError("ExecutionResult", revertData)
	if !ok || len(values) != 6 {
		return nil, false
	}
	preOpGas, ok1 := values[0].(*big.Int)
	paid, ok2 := values[1].(*big.Int)
	targetSuccess, ok3 := values[4].(bool)
	targetResult, ok4 := values[5].([]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 || preOpGas == nil || paid == nil {
		return nil, false
	}
	return &EstimatedGas{
		PreOpGas:      preOpGas.Uint64(),
		Paid:          paid.Uint64(),
		TargetSuccess: targetSuccess,
		TargetResult:  targetResult,
	}, true
}

// userOpTuple converts op into the ABI tuple shape expected by the
// EntryPoint ABI definitions above.
func userOpTuple(op *UserOperationSigned) interface{} {
	return struct {
		Sender               gethcommon.Address
		Nonce                *big.Int
		InitCode             []byte
		CallData             []byte
		CallGasLimit         *big.Int
		VerificationGasLimit *big.Int
		PreVerificationGas   *big.Int
		MaxFeePerGas         *big.Int
		MaxPriorityFeePerGas *big.Int
		PaymasterAndData     []byte
		Signature            []byte
	}{
		Sender:               op.Sender.ToGeth(),
		Nonce:                bigOrZero(op.Nonce),
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         bigOrZero(op.CallGasLimit),
		VerificationGasLimit: bigOrZero(op.VerificationGasLimit),
		PreVerificationGas:   bigOrZero(op.PreVerificationGas),
		MaxFeePerGas:         bigOrZero(op.MaxFeePerGas),
		MaxPriorityFeePerGas: bigOrZero(op.MaxPriorityFeePerGas),
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
}

func entryPointAddr(a uotypes.Address) *gethcommon.Address {
	g := a.ToGeth()
	return &g
}

// classifyTransportError maps a raw RPC client error into the adapter's
// transport error taxonomy: JSON-RPC errors carry a code, everything
// else is a network-level failure.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(rpc.Error); ok {
		return errors.Wrapf(errors.ErrJSONRPC, "%v", err)
	}
	return errors.Wrapf(errors.ErrNetwork, "%v", err)
}

// decodeRevertData extracts the ABI-encoded revert payload from a
// go-ethereum JSON-RPC "execution reverted" error, if err carries one.
func decodeRevertData(err error) ([]byte, bool) {
	de, ok := err.(rpc.DataError)
	if !ok {
		return nil, false
	}
	hexData, ok := de.ErrorData().(string)
	if !ok || !strings.HasPrefix(hexData, "0x") {
		return nil, false
	}
	return gethcommon.FromHex(hexData), true
}

