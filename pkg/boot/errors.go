package boot

import (
	"errors"
	"fmt"

	"github.com/nos-project/nosboot/pkg/stage"
)

// Kind classifies a boot pipeline error.
type Kind int

const (
	// KindEnvironmentDetection: the firmware environment could not be
	// identified.
	KindEnvironmentDetection Kind = iota
	// KindMemoryLayout: the firmware memory map failed layout validation.
	KindMemoryLayout
	// KindMediaInaccessible: the boot device is unusable.
	KindMediaInaccessible
	// KindKernelLoad: the kernel image could not be placed in its load
	// window.
	KindKernelLoad
	// KindInvalidSignature: the image magic word is wrong.
	KindInvalidSignature
	// KindChecksumMismatch: the image header words do not sum to zero.
	KindChecksumMismatch
	// KindProtocolMismatch: the image header is sound but announces a
	// hand-off protocol version this loader does not speak.
	KindProtocolMismatch
	// KindBootInfoIncomplete: the hand-off payload is missing its memory
	// map or holds no usable memory.
	KindBootInfoIncomplete
	// KindReadinessCheck: a readiness gate is down; Gate names it.
	KindReadinessCheck
	// KindInvalidStage: an operation was called out of order. Protocol
	// misuse; never moves the session to Failed.
	KindInvalidStage
	// KindInitialization: session initialization itself failed.
	KindInitialization
)

func (k Kind) String() string {
	switch k {
	case KindEnvironmentDetection:
		return "environment detection failed"
	case KindMemoryLayout:
		return "memory layout invalid"
	case KindMediaInaccessible:
		return "media inaccessible"
	case KindKernelLoad:
		return "kernel load failed"
	case KindInvalidSignature:
		return "invalid signature"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindProtocolMismatch:
		return "protocol version mismatch"
	case KindBootInfoIncomplete:
		return "boot info incomplete"
	case KindReadinessCheck:
		return "readiness check failed"
	case KindInvalidStage:
		return "invalid stage transition"
	case KindInitialization:
		return "initialization failed"
	default:
		return "unknown"
	}
}

// Error is the typed pipeline error. Stage is the session stage at the
// time of failure; Gate is set only for readiness failures.
type Error struct {
	Kind  Kind
	Stage stage.Stage
	Gate  string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("boot: %s at stage %q", e.Kind, e.Stage)
	if e.Gate != "" {
		msg += fmt.Sprintf(" (gate %q)", e.Gate)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, k Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == k
}
