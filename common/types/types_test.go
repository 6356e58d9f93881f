// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.

package types

import (
	"encoding/json"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	a := BytesToAddress(raw)
	if a.IsZero() {
		t.Fatal("address built from non-zero bytes should not be zero")
	}
	if BytesToAddress(a.Bytes()) != a {
		t.Error("Bytes() round trip should reproduce the same address")
	}
	t.Log("✓ address byte round trip works")
}

func TestAddressHexRoundTrip(t *testing.T) {
	want := HexToAddress("0x5aeda56215b167893e80b4fe645ba6d5bab767de")
	if HexToAddress(want.Hex()) != want {
		t.Error("hex round trip should reproduce the same address")
	}
	t.Log("✓ address hex round trip works")
}

func TestAddressJSON(t *testing.T) {
	a := HexToAddress("0x5aeda56215b167893e80b4fe645ba6d5bab767de")
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Address
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != a {
		t.Errorf("JSON round trip mismatch: got %s want %s", got, a)
	}
	t.Log("✓ address JSON round trip works")
}

func TestHashRoundTrip(t *testing.T) {
	raw := make([]byte, HashLength)
	for i := range raw {
		raw[i] = byte(i)
	}
	h := BytesToHash(raw)
	if h.IsZero() {
		t.Fatal("hash built from non-zero bytes should not be zero")
	}
	if BytesToHash(h.Bytes()) != h {
		t.Error("Bytes() round trip should reproduce the same hash")
	}
	t.Log("✓ hash byte round trip works")
}

func TestHashJSON(t *testing.T) {
	h := HexToHash("0x1234567890123456789012345678901234567890123456789012345678901234")
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Hash
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != h {
		t.Errorf("JSON round trip mismatch: got %s want %s", got, h)
	}
	t.Log("✓ hash JSON round trip works")
}

func TestZeroValues(t *testing.T) {
	var a Address
	var h Hash
	if !a.IsZero() {
		t.Error("zero-value Address should report IsZero")
	}
	if !h.IsZero() {
		t.Error("zero-value Hash should report IsZero")
	}
	t.Log("✓ zero values behave as expected")
}

func TestGethConversion(t *testing.T) {
	a := HexToAddress("0x5aeda56215b167893e80b4fe645ba6d5bab767de")
	if AddressFromGeth(a.ToGeth()) != a {
		t.Error("Address <-> geth common.Address conversion should round trip")
	}
	h := HexToHash("0x1234567890123456789012345678901234567890123456789012345678901234")
	if HashFromGeth(h.ToGeth()) != h {
		t.Error("Hash <-> geth common.Hash conversion should round trip")
	}
	t.Log("✓ geth conversions round trip")
}
