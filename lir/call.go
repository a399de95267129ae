//go:build (darwin || linux) && (amd64 || arm64)

package lir

import (
	"github.com/ebitengine/purego"
)

// maxCallArgs is what purego passes on SysV and AAPCS64 targets.
const maxCallArgs = 15

// Call runs the code with the C calling convention, passing args as word
// arguments, and returns the word result. The code must have been
// generated for the host.
func (k *Code) Call(args ...uintptr) (uintptr, error) {
	if err := k.callable(); err != nil {
		return 0, err
	}
	if len(args) > maxCallArgs {
		return 0, errorf(ErrBadArgument, "call with %d arguments, at most %d", len(args), maxCallArgs)
	}
	r1, _, _ := purego.SyscallN(k.Entry, args...)
	return r1, nil
}

// Func binds fptr, a pointer to a nil func variable, to the code. Float
// arguments and results go through the float registers.
//
//	var add func(a, b float64) float64
//	code.Func(&add)
func (k *Code) Func(fptr any) (err error) {
	if err := k.callable(); err != nil {
		return err
	}
	defer func() {
		// RegisterFunc panics on signatures it cannot lower.
		if r := recover(); r != nil {
			err = errorf(ErrBadArgument, "bind %T: %v", fptr, r)
		}
	}()
	purego.RegisterFunc(fptr, k.Entry)
	return nil
}

func (k *Code) callable() error {
	if k == nil || k.Entry == 0 {
		return errorf(ErrBadArgument, "call of nil code")
	}
	if k.arch != HostArch() {
		return errorf(ErrUnsupported, "code for %s cannot run on %s", k.arch, HostArch())
	}
	return nil
}
