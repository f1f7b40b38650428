// Package envprobe determines the firmware environment a boot attempt is
// running under. It is a leaf: it consumes an opaque firmware-identity
// query and produces a FirmwareType, nothing else.
package envprobe

import "fmt"

// FirmwareType identifies the firmware that handed control to the loader.
type FirmwareType int

const (
	Unknown FirmwareType = iota
	BIOS
	UEFI
	Multiboot2
)

func (t FirmwareType) String() string {
	switch t {
	case BIOS:
		return "BIOS"
	case UEFI:
		return "UEFI"
	case Multiboot2:
		return "Multiboot2"
	default:
		return "unknown"
	}
}

// FirmwareQuery is the opaque identity query supplied by the environment
// layer. Implementations usually wrap a firmware interrupt shim or a
// chainload signature check; this package only consumes the answer.
type FirmwareQuery interface {
	FirmwareType() (FirmwareType, error)
}

// ErrDetectionFailed reports that the firmware environment could not be
// identified at all. An Unknown result with a nil error is not a failure;
// it is a valid, degraded answer.
type ErrDetectionFailed struct {
	Cause error
}

func (e *ErrDetectionFailed) Error() string {
	return fmt.Sprintf("environment detection failed: %v", e.Cause)
}

func (e *ErrDetectionFailed) Unwrap() error { return e.Cause }

// Probe runs the firmware-identity query once and returns the detected
// environment.
func Probe(q FirmwareQuery) (FirmwareType, error) {
	t, err := q.FirmwareType()
	if err != nil {
		return Unknown, &ErrDetectionFailed{Cause: err}
	}
	return t, nil
}

// QueryFunc adapts a plain function to FirmwareQuery.
type QueryFunc func() (FirmwareType, error)

func (f QueryFunc) FirmwareType() (FirmwareType, error) { return f() }
