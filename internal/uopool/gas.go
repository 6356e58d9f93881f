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

// Pre-verification gas constants (calc_pvg).
const (
	pvgFixed         uint64 = 21000
	pvgPerUserOp     uint64 = 18300
	pvgPerUserOpWord uint64 = 4
	pvgBundleSize    uint64 = 1
	zeroByteGas      uint64 = 4
	nonZeroByteGas   uint64 = 16

	// SigSize is the length of a standard 65-byte ECDSA signature.
	// CalcPreVerificationGas does not use it: it prices the signature
	// bytes the operation actually carries, whatever their length.
	SigSize = 65

	// PreVerificationSafeReserve is added on top of calc_pvg's result by
	// estimate_user_operation_gas, a margin against gas-price drift
	// between estimation and inclusion.
	PreVerificationSafeReserve uint64 = 1000

	// GasIncreasePercent is the minimum percentage bump a replacement
	// operation's fees must clear over the operation it replaces.
	GasIncreasePercent uint64 = 10
)

// CalcPreVerificationGas computes the pre_verification_gas an operation
// must declare: a fixed per-bundle share, plus the calldata cost of its
// full ABI-packed form (init_code/call_data/paymaster_and_data/signature
// carried as raw bytes, not the 32-byte digests UserOperationHash uses),
// plus a per-word overhead. All arithmetic saturates so a
// pathologically large operation can't wrap the result back to a small,
// underpriced value.
func CalcPreVerificationGas(op *UserOperationSigned) (uint64, error) {
	packed, err := packFull(op)
	if err != nil {
		return 0, err
	}

	fixedShare := ceilDiv(pvgFixed, pvgBundleSize)
	callDataCost := calldataGasCost(packed)
	wordCost := ceilDiv(satMulU64(pvgPerUserOpWord, satAddU64(uint64(len(packed)), 31)), 32)

	total := satAddU64(fixedShare, callDataCost)
	total = satAddU64(total, pvgPerUserOp)
	total = satAddU64(total, wordCost)
	return total, nil
}

// calldataGasCost sums the EVM calldata gas cost of data: zeroByteGas
// per zero byte, nonZeroByteGas otherwise.
func calldataGasCost(data []byte) uint64 {
	var total uint64
	for _, b := range data {
		if b == 0 {
			total = satAddU64(total, zeroByteGas)
		} else {
			total = satAddU64(total, nonZeroByteGas)
		}
	}
	return total
}

// ceilDiv divides a by b, rounding up, saturating on overflow/zero b.
func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return (satAddU64(a, b-1)) / b
}

// MeetsFeeBump reports whether candidateFee clears prevFee by at least
// GasIncreasePercent percent, the bar a replacement operation's
// max_fee_per_gas and max_priority_fee_per_gas must each individually
// clear over the operation it displaces. The required minimum rounds up.
func MeetsFeeBump(candidateFee, prevFee uint64) bool {
	required := ceilDiv(satMulU64(prevFee, 100+GasIncreasePercent), 100)
	return candidateFee >= required
}

// EstimatedGas is the decoded result of simulateHandleOp, the basis for
// estimate_user_operation_gas's derived limits.
type EstimatedGas struct {
	PreOpGas      uint64
	Paid          uint64
	TargetSuccess bool
	TargetResult  []byte
}

// DeriveCallGasLimit computes call_gas_limit from a simulateHandleOp
// result: ceil(paid / feePerGas) - pre_op_gas + FIXED.
func DeriveCallGasLimit(result EstimatedGas, feePerGas uint64) uint64 {
	if feePerGas == 0 {
		return pvgFixed
	}
	gasUsed := ceilDiv(result.Paid, feePerGas)
	if gasUsed < result.PreOpGas {
		return pvgFixed
	}
	return satAddU64(gasUsed-result.PreOpGas, pvgFixed)
}
