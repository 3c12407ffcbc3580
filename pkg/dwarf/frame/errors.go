package frame

import (
	"errors"
	"fmt"
)

// ErrNoFDE matches every lookup that found no covering FDE.
var ErrNoFDE = errors.New("no FDE")

// ErrNoFDEForPC no FDE covers PC
type ErrNoFDEForPC struct {
	PC uint64
}

func (err *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("no FDE covers pc %#x", err.PC)
}

// Is reports ErrNoFDE, so callers can test errors.Is(err, ErrNoFDE).
func (err *ErrNoFDEForPC) Is(target error) bool {
	return target == ErrNoFDE
}
