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

// Package errors defines the common error types used throughout the
// uopool codebase. This package provides a centralized location for
// error definitions to ensure consistency and avoid duplication across
// modules, grouped by the validation stage that can produce them.
package errors

import (
	"errors"
	"fmt"
)

// =====================
// Sanity Errors
// =====================

// Sanity errors are returned by the first validation stage, before any
// RPC call leaves the process. They reject malformed or out-of-bound
// user operations outright.
var (
	// ErrSenderOrInitCode is returned when a sender has no code and
	// init_code does not point at a known factory, or a sender with
	// code carries a non-empty init_code.
	ErrSenderOrInitCode = errors.New("sender or init_code invalid")

	// ErrHighVerificationGasLimit is returned when verification_gas_limit
	// exceeds the configured maximum.
	ErrHighVerificationGasLimit = errors.New("verification gas limit too high")

	// ErrLowPreVerificationGas is returned when pre_verification_gas is
	// lower than the calldata/overhead cost it is meant to cover.
	ErrLowPreVerificationGas = errors.New("pre-verification gas too low")

	// ErrPaymasterVerification is returned when paymaster_and_data is
	// non-empty but shorter than an address, or the paymaster has no
	// code and is not a staked entity.
	ErrPaymasterVerification = errors.New("paymaster verification failed")

	// ErrLowCallGasLimit is returned when call_gas_limit is lower than
	// the minimum gas a call can cost.
	ErrLowCallGasLimit = errors.New("call gas limit too low")

	// ErrHighMaxPriorityFeePerGas is returned when max_priority_fee_per_gas
	// exceeds max_fee_per_gas.
	ErrHighMaxPriorityFeePerGas = errors.New("max priority fee per gas higher than max fee per gas")

	// ErrLowMaxFeePerGas is returned when max_fee_per_gas is below the
	// network's current base fee.
	ErrLowMaxFeePerGas = errors.New("max fee per gas too low")

	// ErrLowMaxPriorityFeePerGas is returned when max_priority_fee_per_gas
	// is below the configured minimum priority fee.
	ErrLowMaxPriorityFeePerGas = errors.New("max priority fee per gas too low")

	// ErrSenderVerification is returned when the sender already has a
	// pending user operation with the same nonce that this one does not
	// validly replace, or the unstaked-sender pending-op quota is hit.
	ErrSenderVerification = errors.New("sender verification failed")
)

// =====================
// Signature Errors
// =====================

// Signature errors are returned by the second validation stage, which
// checks the user operation's aggregate signature and time window.
var (
	// ErrSignatureCheck is returned when simulateValidation reverts with
	// a signature-related failure.
	ErrSignatureCheck = errors.New("signature check failed")

	// ErrExpiration is returned when the current time falls outside
	// [valid_after, valid_until), or within EXPIRATION_TIMESTAMP_DIFF of
	// valid_until.
	ErrExpiration = errors.New("user operation outside its validity window")
)

// =====================
// Simulation Errors
// =====================

// Simulation errors are returned by the trace-based third validation
// stage, driven by debug_traceCall and the embedded JS tracer.
var (
	// ErrValidation wraps a failure that occurred while EntryPoint was
	// executing the validation phase (validateUserOp / validatePaymasterUserOp).
	ErrValidation = errors.New("validation phase reverted")

	// ErrExecution wraps a failure that occurred while EntryPoint was
	// executing the call phase.
	ErrExecution = errors.New("execution phase reverted")

	// ErrOpcode is returned when an entity used a forbidden opcode
	// during its validation frame.
	ErrOpcode = errors.New("forbidden opcode used during validation")

	// ErrStorageAccess is returned when an entity accessed a storage
	// slot it is not associated with.
	ErrStorageAccess = errors.New("unassociated storage access during validation")

	// ErrUnstaked is returned when an unstaked entity performed an
	// action only a staked entity may perform (e.g. accessing another
	// sender's storage slots, or using more than one CREATE2).
	ErrUnstaked = errors.New("unstaked entity attempted a staked-only action")

	// ErrCallStack is returned when the validation frame's call stack
	// shape violates the tracer's rules (e.g. a banned opcode nested
	// under a forbidden precompile call).
	ErrCallStack = errors.New("invalid call stack during validation")

	// ErrOutOfGas is returned when a validation frame ran out of gas.
	ErrOutOfGas = errors.New("out of gas during validation")

	// ErrCodeHashes is returned when a previously-simulated entity's
	// on-chain code changed since it was first observed.
	ErrCodeHashes = errors.New("entity code hash changed since last simulation")
)

// =====================
// Reputation Errors
// =====================

// Reputation errors are returned by the fourth validation stage, which
// gates entities on their throttle/ban status and stake.
var (
	// ErrBannedEntity is returned when an entity's reputation status is
	// BANNED, or is THROTTLED and the mempool already holds as many of
	// its user operations as THROTTLED_ENTITY_BUNDLE_COUNT allows.
	ErrBannedEntity = errors.New("entity is banned or throttled")

	// ErrStakeTooLow is returned when an entity's on-chain stake is
	// below the configured minimum.
	ErrStakeTooLow = errors.New("entity stake too low")

	// ErrUnstakeDelayTooLow is returned when an entity's on-chain
	// unstake delay is below the configured minimum.
	ErrUnstakeDelayTooLow = errors.New("entity unstake delay too low")
)

// =====================
// Transport Errors
// =====================

// Transport errors come out of the EntryPoint adapter (internal/uopool's
// entrypoint.go) below the four validation-stage kinds above: they cover
// the JSON-RPC round trip itself, not anything the EntryPoint contract
// decided.
var (
	// ErrJSONRPC is returned when the execution client's JSON-RPC
	// endpoint returns a transport-level error.
	ErrJSONRPC = errors.New("json-rpc call failed")

	// ErrNetwork is returned when the adapter cannot reach its
	// configured endpoint at all.
	ErrNetwork = errors.New("network error contacting execution client")

	// ErrDecode is returned when a JSON-RPC response could not be
	// decoded into the expected ABI shape.
	ErrDecode = errors.New("failed to decode entrypoint response")

	// ErrUnknown is returned when the adapter observes behavior the
	// EntryPoint contract is not supposed to produce, e.g. a
	// simulateValidation call returning without reverting.
	ErrUnknown = errors.New("unexpected entrypoint adapter behavior")
)

// =====================
// Facade Errors
// =====================

// Facade errors are returned by the pool coordinator's collaborator-facing
// operations (internal/uopool's pool.go), above the validation-stage kinds.
var (
	// ErrNotFound is returned by get_user_operation_by_hash/_receipt when
	// no UserOperationEvent matching the hash turns up within the scanned
	// block window.
	ErrNotFound = errors.New("user operation not found")

	// ErrTimeout is returned when a request's deadline expires before the
	// EntryPoint adapter completes, leaving mempool state untouched.
	ErrTimeout = errors.New("request deadline exceeded")
)

// =====================
// Helper Functions
// =====================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Errorf formats according to a format specifier and returns the string as a value that satisfies error.
func Errorf(format string, a ...interface{}) error {
	return fmt.Errorf(format, a...)
}
