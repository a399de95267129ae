package execmem

// Darwin refuses RWX anonymous mappings on arm64 without MAP_JIT, so blocks
// are toggled between RW and RX instead.
func defaultMode() Mode { return ModeWX }

func dualSupported() bool { return false }

func mapDual(int) (*chunk, error) { return nil, ErrUnsupported }
