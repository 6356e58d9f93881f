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

// Package utils collects small byte/hash helpers shared across the
// codebase: fixed-size byte conversions used when decoding ABI-packed
// fields, and the keccak256 wrappers used for UserOperationHash and
// code-hash bookkeeping.
package utils

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

// ToBytes4 copies x into a 4-byte array, truncating or zero-padding on
// the right as needed.
func ToBytes4(x []byte) [4]byte {
	var a [4]byte
	copy(a[:], x)
	return a
}

// ToBytes20 copies x into a 20-byte array, truncating or zero-padding on
// the right as needed.
func ToBytes20(x []byte) [20]byte {
	var a [20]byte
	copy(a[:], x)
	return a
}

// ToBytes32 copies x into a 32-byte array, truncating or zero-padding on
// the right as needed.
func ToBytes32(x []byte) [32]byte {
	var a [32]byte
	copy(a[:], x)
	return a
}

// ToBytes48 copies x into a 48-byte array, truncating or zero-padding on
// the right as needed.
func ToBytes48(x []byte) [48]byte {
	var a [48]byte
	copy(a[:], x)
	return a
}

// ToBytes64 copies x into a 64-byte array, truncating or zero-padding on
// the right as needed.
func ToBytes64(x []byte) [64]byte {
	var a [64]byte
	copy(a[:], x)
	return a
}

// ToBytes96 copies x into a 96-byte array, truncating or zero-padding on
// the right as needed.
func ToBytes96(x []byte) [96]byte {
	var a [96]byte
	copy(a[:], x)
	return a
}

// Keccak256 returns the keccak256 digest of the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// Keccak256Hash returns the keccak256 digest of data as a 32-byte slice.
func Keccak256Hash(data []byte) []byte {
	h := crypto.Keccak256Hash(data)
	return h.Bytes()
}

// Hash256toS returns the lowercase hex encoding (no "0x" prefix) of the
// keccak256 digest of data.
func Hash256toS(data []byte) string {
	return hex.EncodeToString(Keccak256(data))
}

// HexPrefix returns the longest common byte prefix of a and b.
func HexPrefix(a, b []byte) ([]byte, int) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i], i
}

// unique returns ss with duplicate elements removed, preserving the
// order of first occurrence.
func unique(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
