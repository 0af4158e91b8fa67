package ins

import (
	"errors"
	"fmt"

	"github.com/thanm/go-edit-a-dex/key"
)

var (
	// ErrRegisterLimit is returned when a register number does not fit
	// its operand slot.
	ErrRegisterLimit = errors.New("register out of range")
	// ErrLiteralRange is returned when a literal or branch offset does not
	// fit the instruction's format.
	ErrLiteralRange = errors.New("value out of range")
	// ErrNotSequential is returned when sparse keys cannot be expressed
	// as a packed switch.
	ErrNotSequential = errors.New("switch keys are not sequential")
)

// ErrNoTarget is returned for a branch, case or try bound whose
// instruction is gone. It also matches key.ErrUnresolved.
var ErrNoTarget error = noTarget{}

type noTarget struct{}

func (noTarget) Error() string        { return "missing target" }
func (noTarget) Is(target error) bool { return target == key.ErrUnresolved }

func registerLimit(op fmt.Stringer, slot, v, bits int) error {
	return fmt.Errorf("%v: register %d in slot %d, max %d: %w", op, v, slot, 1<<bits-1, ErrRegisterLimit)
}

func literalRange(op fmt.Stringer, v int64) error {
	return fmt.Errorf("%v: 0x%x: %w", op, v, ErrLiteralRange)
}
