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

// Package types holds the fixed-size value types shared by every layer of
// the node: account addresses and 32-byte hashes. Both are thin, comparable
// array types so they can be used directly as map keys, mirroring
// go-ethereum's common.Address / common.Hash.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	gethcommon "github.com/ethereum/go-ethereum/common"
)

// AddressLength is the expected length of an account address, in bytes.
const AddressLength = 20

// HashLength is the expected length of a hash, in bytes.
const HashLength = 32

// Address represents the 20-byte address of an EOA or contract account.
type Address [AddressLength]byte

// BytesToAddress returns Address with value b.
// If b is larger than len(h), b will be cropped from the left.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress returns Address with byte values of s.
func HexToAddress(s string) Address {
	return BytesToAddress(gethcommon.FromHex(s))
}

// SetBytes sets the address to the value of b, left-padded if it is shorter.
func (a *Address) SetBytes(b []byte) {
	if len(b) > len(a) {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// Bytes returns the raw bytes of the address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns an EIP-55 checksummed hex string representation of the address.
func (a Address) Hex() string {
	return gethcommon.Address(a).Hex()
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// ToGeth converts a to the go-ethereum common.Address it is byte-identical to.
func (a Address) ToGeth() gethcommon.Address { return gethcommon.Address(a) }

// AddressFromGeth converts a go-ethereum common.Address into an Address.
func AddressFromGeth(a gethcommon.Address) Address { return Address(a) }

// MarshalJSON implements json.Marshaler, encoding the address as a
// checksummed hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = HexToAddress(s)
	return nil
}

// Hash represents a 32-byte keccak256 hash.
type Hash [HashLength]byte

// BytesToHash returns Hash with value b.
// If b is larger than len(h), b will be cropped from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash returns Hash with byte values of s.
func HexToHash(s string) Hash {
	return BytesToHash(gethcommon.FromHex(s))
}

// SetBytes sets the hash to the value of b, left-padded if it is shorter.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Bytes returns the raw bytes of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the "0x"-prefixed hex string representation of the hash.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether the hash is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// ToGeth converts h to the go-ethereum common.Hash it is byte-identical to.
func (h Hash) ToGeth() gethcommon.Hash { return gethcommon.Hash(h) }

// HashFromGeth converts a go-ethereum common.Hash into a Hash.
func HashFromGeth(h gethcommon.Hash) Hash { return Hash(h) }

// MarshalJSON implements json.Marshaler.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*h = HexToHash(s)
	return nil
}

// Format implements fmt.Formatter so Address/Hash print sensibly with %v/%s/%x.
func (a Address) Format(s fmt.State, c byte) {
	fmt.Fprint(s, a.Hex())
}

func (h Hash) Format(s fmt.State, c byte) {
	fmt.Fprint(s, h.Hex())
}
