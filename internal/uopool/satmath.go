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

import "time"

// satAddU64 adds a and b, clamping at math.MaxUint64 instead of
// wrapping. The reputation counters and calc_pvg both need this: a
// malicious or buggy peer should never be able to wrap a counter back
// through zero.
func satAddU64(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// satSubU64 subtracts b from a, clamping at zero instead of wrapping.
func satSubU64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// satMulU64 multiplies a and b, clamping at math.MaxUint64 on overflow.
func satMulU64(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	product := a * b
	if product/a != b {
		return ^uint64(0)
	}
	return product
}

// Clock supplies the current time. The validator (its
// EXPIRATION_TIMESTAMP_DIFF and valid_after checks) and the EntryPoint
// adapter's deposit-info cache take one so tests can inject a fake clock
// instead of depending on time.Now(). update_hourly's decay does not
// read the time.
type Clock interface {
	Now() time.Time
}

// realClock is the production Clock, backed by time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock used outside of tests.
var SystemClock Clock = realClock{}
