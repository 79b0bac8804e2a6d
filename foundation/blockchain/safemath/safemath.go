// Package safemath provides overflow checked arithmetic for balances and
// amounts. An overflow in a block is treated as malicious input, so every
// amount calculation in the ledger goes through these functions.
package safemath

import (
	"errors"

	"github.com/ethereum/go-ethereum/common/math"
)

// Set of error variables returned by the arithmetic functions.
var (
	ErrOverflow  = errors.New("overflow")
	ErrUnderflow = errors.New("underflow")
)

// Add returns a + b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	v, overflow := math.SafeAdd(a, b)
	if overflow {
		return 0, ErrOverflow
	}
	return v, nil
}

// Sub returns a - b or ErrUnderflow.
func Sub(a, b uint64) (uint64, error) {
	v, underflow := math.SafeSub(a, b)
	if underflow {
		return 0, ErrUnderflow
	}
	return v, nil
}

// Mul returns a * b or ErrOverflow.
func Mul(a, b uint64) (uint64, error) {
	v, overflow := math.SafeMul(a, b)
	if overflow {
		return 0, ErrOverflow
	}
	return v, nil
}

// Sum adds all the values, stopping at the first overflow.
func Sum(values ...uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		var err error
		if total, err = Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}
