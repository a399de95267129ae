package lir

import (
	"errors"
	"fmt"
)

// Error is a compiler status code. The numeric values are stable and are
// what ErrorCode reports.
type Error int

const (
	// ErrCompiled is returned by every emit after GenerateCode succeeded.
	ErrCompiled Error = 1
	// ErrAllocFailed reports a failed allocation of compiler memory.
	ErrAllocFailed Error = 2
	// ErrExAllocFailed reports a failed executable memory allocation.
	ErrExAllocFailed Error = 3
	// ErrUnsupported reports an instruction form or architecture this
	// module cannot generate.
	ErrUnsupported Error = 4
	// ErrBadArgument reports an invalid operand, opcode or context.
	ErrBadArgument Error = 5
	// ErrDynCodeMod reports a runtime patch of code that was not emitted as
	// rewritable.
	ErrDynCodeMod Error = 6
)

func (e Error) Error() string {
	switch e {
	case ErrCompiled:
		return "lir: code already generated"
	case ErrAllocFailed:
		return "lir: memory allocation failed"
	case ErrExAllocFailed:
		return "lir: executable memory allocation failed"
	case ErrUnsupported:
		return "lir: unsupported"
	case ErrBadArgument:
		return "lir: bad argument"
	case ErrDynCodeMod:
		return "lir: dynamic code modification not possible"
	}
	return fmt.Sprintf("lir: error %d", int(e))
}

func errorf(code Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", code, fmt.Sprintf(format, args...))
}

// codeOf extracts the status code carried by err, or 0 when err is nil.
func codeOf(err error) Error {
	if err == nil {
		return 0
	}
	var code Error
	if errors.As(err, &code) {
		return code
	}
	return ErrBadArgument
}
