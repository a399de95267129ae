//go:build !linux && !darwin

package execmem

func defaultMode() Mode { return ModeRWX }

func dualSupported() bool { return false }

func pageSize() int { return 4096 }

func rwBase(c *chunk) uintptr { return c.base }

func mapChunk(Mode, int) (*chunk, error) { return nil, ErrUnsupported }

func unmapChunk(*chunk) error { return ErrUnsupported }

func protect([]byte, bool) error { return ErrUnsupported }
