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

// Package uopool implements the ERC-4337 user-operation mempool: the
// entity store, reputation engine, EntryPoint adapter, validator, and
// pool coordinator, all partitioned by entry point + chain id. It
// mirrors the teacher's own internal/txspool layout — one mempool
// concern, one package, multiple files.
package uopool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/n42blockchain/uopool/common/types"
)

const addressLength = 20

// UserOperationSigned is the wire form of an ERC-4337 user operation, as
// submitted by a wallet and passed into EntryPoint.handleOps.
type UserOperationSigned struct {
	Sender               types.Address
	Nonce                *uint256.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *uint256.Int
	VerificationGasLimit *uint256.Int
	PreVerificationGas   *uint256.Int
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// noSigArgs describes the ABI shape of the signature-less encoding used
// to derive UserOperationHash: init_code/call_data/paymaster_and_data
// are reduced to their keccak256 digest, matching the reference
// bundler's UserOperationNoSignature. It never changes between calls,
// so it is built once at package init.
var noSigArgs abi.Arguments

// fullArgs describes the ABI shape of the full, signature-included
// encoding (the reference bundler's pack(), as opposed to
// pack_without_signature()): every bytes field is encoded raw, with no
// hashing. This is the encoding calc_pvg prices — a user operation pays
// calldata gas for the actual bytes it carries, not for a 32-byte
// digest of them.
var fullArgs abi.Arguments

func init() {
	address, _ := abi.NewType("address", "", nil)
	u256, _ := abi.NewType("uint256", "", nil)
	bytes32, _ := abi.NewType("bytes32", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)

	noSigArgs = abi.Arguments{
		{Type: address}, // sender
		{Type: u256},    // nonce
		{Type: bytes32}, // keccak256(init_code)
		{Type: bytes32}, // keccak256(call_data)
		{Type: u256},    // call_gas_limit
		{Type: u256},    // verification_gas_limit
		{Type: u256},    // pre_verification_gas
		{Type: u256},    // max_fee_per_gas
		{Type: u256},    // max_priority_fee_per_gas
		{Type: bytes32}, // keccak256(paymaster_and_data)
	}

	fullArgs = abi.Arguments{
		{Type: address}, // sender
		{Type: u256},    // nonce
		{Type: bytesT},  // init_code, raw
		{Type: bytesT},  // call_data, raw
		{Type: u256},    // call_gas_limit
		{Type: u256},    // verification_gas_limit
		{Type: u256},    // pre_verification_gas
		{Type: u256},    // max_fee_per_gas
		{Type: u256},    // max_priority_fee_per_gas
		{Type: bytesT},  // paymaster_and_data, raw
		{Type: bytesT},  // signature, raw
	}
}

func bigOrZero(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// packNoSig returns the ABI encoding of op with its signature dropped,
// used by UserOperationHash (calc_pvg prices packFull instead).
func packNoSig(op *UserOperationSigned) ([]byte, error) {
	return noSigArgs.Pack(
		op.Sender.ToGeth(),
		bigOrZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
}

// packFull returns the ABI encoding of op with every bytes field
// (init_code, call_data, paymaster_and_data, signature) carried in
// full, raw form — the encoding calc_pvg measures calldata cost over
// (the reference bundler's pack(), as opposed to pack_without_signature()
// which packNoSig implements). Unlike packNoSig, this is never used for
// hashing: the signature must not be part of UserOperationHash.
func packFull(op *UserOperationSigned) ([]byte, error) {
	return fullArgs.Pack(
		op.Sender.ToGeth(),
		bigOrZero(op.Nonce),
		op.InitCode,
		op.CallData,
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		op.PaymasterAndData,
		op.Signature,
	)
}

// UserOperationHash computes the canonical hash of a signed user
// operation: keccak256( keccak256(noSig encoding) ‖ entryPoint ‖ chainId ).
func UserOperationHash(op *UserOperationSigned, entryPoint types.Address, chainID uint64) (types.Hash, error) {
	packed, err := packNoSig(op)
	if err != nil {
		return types.Hash{}, err
	}
	inner := crypto.Keccak256(packed)

	var chainIDWord [32]byte
	new(big.Int).SetUint64(chainID).FillBytes(chainIDWord[:])

	outer := crypto.Keccak256(inner, entryPoint.Bytes(), chainIDWord[:])
	return types.BytesToHash(outer), nil
}

// UserOperation is the internal representation held by the mempool: a
// signed operation paired with its hash, computed once and cached.
type UserOperation struct {
	Hash   types.Hash
	Signed *UserOperationSigned
}

// NewUserOperation computes op's hash and wraps it with the signed form.
func NewUserOperation(op *UserOperationSigned, entryPoint types.Address, chainID uint64) (*UserOperation, error) {
	h, err := UserOperationHash(op, entryPoint, chainID)
	if err != nil {
		return nil, err
	}
	return &UserOperation{Hash: h, Signed: op}, nil
}

// Sender returns the operation's sender address.
func (u *UserOperation) Sender() types.Address { return u.Signed.Sender }

// Factory returns the first 20 bytes of init_code, if present.
func (u *UserOperation) Factory() (types.Address, bool) {
	return addressPrefix(u.Signed.InitCode)
}

// Paymaster returns the first 20 bytes of paymaster_and_data, if present.
func (u *UserOperation) Paymaster() (types.Address, bool) {
	return addressPrefix(u.Signed.PaymasterAndData)
}

func addressPrefix(b []byte) (types.Address, bool) {
	if len(b) < addressLength {
		return types.Address{}, false
	}
	return types.BytesToAddress(b[:addressLength]), true
}

// MempoolID computes the partition key all mempool state is scoped to:
// keccak256(checksumAddress(entryPoint) ‖ chainId).
func MempoolID(entryPoint types.Address, chainID uint64) types.Hash {
	var chainIDWord [32]byte
	new(big.Int).SetUint64(chainID).FillBytes(chainIDWord[:])
	return types.BytesToHash(crypto.Keccak256([]byte(entryPoint.Hex()), chainIDWord[:]))
}

// CodeHash associates an on-chain address with the code hash observed
// for it during a validation trace, so the second simulation can detect
// mutation (spec's R7 anti-mutation rule).
type CodeHash struct {
	Address types.Address
	Hash    types.Hash
}

// StakeInfo is returned by the EntryPoint adapter's getDepositInfo and
// consumed by the reputation engine's stake checks. Deposit is the
// entity's spendable EntryPoint balance (what funds gas); Stake is its
// locked collateral (what unlocks storage-access privileges) — the
// sanity stage's paymaster-funding check reads Deposit, verify_stake
// reads Stake.
type StakeInfo struct {
	Address      types.Address
	Deposit      *uint256.Int
	Stake        *uint256.Int
	UnstakeDelay uint64
}

// EntityKind tags which of the three ERC-4337 entity roles a given
// address is playing in the current validation — the rule set the
// validator applies is kind-specific (spec's "entity polymorphism").
type EntityKind int

const (
	EntitySender EntityKind = iota
	EntityFactory
	EntityPaymaster
)

func (k EntityKind) String() string {
	switch k {
	case EntitySender:
		return "account"
	case EntityFactory:
		return "factory"
	case EntityPaymaster:
		return "paymaster"
	default:
		return "unknown"
	}
}

// Entity binds an EntityKind to the address playing that role in one
// validation, letting validator code dispatch kind-specific rules
// through a single small struct instead of a type switch.
type Entity struct {
	Kind    EntityKind
	Address types.Address
}
