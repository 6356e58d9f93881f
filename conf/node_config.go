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

package conf

import "time"

// NodeConfig carries the node-wide settings log.Init needs to lay out
// its on-disk log directory under. A full node config has many more
// fields; the bundler core only ever touches DataDir.
type NodeConfig struct {
	DataDir string
}

// BundlerConfig collects the constants and endpoints the uopool core
// needs: chain identity, the EntryPoint(s) it serves, the constants
// fixed by spec.md §6, and the RPC endpoints of the execution client
// it drives through internal/uopool's EntryPoint adapter.
type BundlerConfig struct {
	// ChainID is mixed into UserOperationHash (spec.md §3).
	ChainID uint64

	// EntryPoints lists the EntryPoint contract addresses this bundler
	// core serves; the mempool is partitioned per (entryPoint, chainID).
	EntryPoints []string

	// EthClientURL is the execution client's JSON-RPC endpoint used for
	// simulateValidation / balanceOf / getDepositInfo / log filtering.
	EthClientURL string

	// TraceClientURL is the endpoint debug_traceCall is issued against.
	// Defaults to EthClientURL when empty.
	TraceClientURL string

	MinStake              uint64
	MinUnstakeDelay        uint64
	MaxVerificationGas    uint64
	MinPriorityFeePerGas uint64

	MaxUOsPerUnstakedSender int
	GasIncreasePercent      int
	ThrottledEntityBundleCount int

	ExpirationTimestampDiff time.Duration
	FilterMaxDepth          uint64

	PreVerificationSafeReserve uint64

	Whitelist []string
	Blacklist []string
}

// DefaultBundlerConfig returns the spec-mandated constants (spec.md §6)
// with no whitelist/blacklist seeding and no RPC endpoints configured.
func DefaultBundlerConfig() BundlerConfig {
	return BundlerConfig{
		MinStake:                   0,
		MinUnstakeDelay:            86400,
		MaxVerificationGas:         6_000_000,
		MinPriorityFeePerGas:       0,
		MaxUOsPerUnstakedSender:    4,
		GasIncreasePercent:         10,
		ThrottledEntityBundleCount: 4,
		ExpirationTimestampDiff:    30 * time.Second,
		FilterMaxDepth:             10,
		PreVerificationSafeReserve: 1000,
	}
}
