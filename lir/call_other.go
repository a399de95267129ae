//go:build !((darwin || linux) && (amd64 || arm64))

package lir

// Call is only available on darwin and linux for amd64 and arm64.
func (k *Code) Call(args ...uintptr) (uintptr, error) {
	return 0, errorf(ErrUnsupported, "calling generated code on this platform")
}

// Func is only available on darwin and linux for amd64 and arm64.
func (k *Code) Func(fptr any) error {
	return errorf(ErrUnsupported, "calling generated code on this platform")
}
