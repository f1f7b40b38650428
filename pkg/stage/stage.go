// Package stage defines the boot pipeline's position type.
//
// There is exactly one Stage enumeration and one authoritative transition
// table. Alternate views of boot progress (percentage, display name) are
// pure functions over Stage, never separate state.
package stage

// Stage is the boot pipeline's current position in its fixed forward
// sequence. Values are ordered: a session only ever advances to a higher
// value or jumps to Failed.
type Stage int

const (
	Uninitialized Stage = iota
	Initializing
	DetectingEnvironment
	AcquiringMemoryMap
	ValidatingMedia
	LoadingKernel
	VerifyingKernel
	BuildingBootInfo
	CheckingReadiness
	ReadyForTransfer
	TransferringControl
	Failed
	Halted
)

var names = map[Stage]string{
	Uninitialized:        "uninitialized",
	Initializing:         "initializing",
	DetectingEnvironment: "detecting environment",
	AcquiringMemoryMap:   "acquiring memory map",
	ValidatingMedia:      "validating media",
	LoadingKernel:        "loading kernel",
	VerifyingKernel:      "verifying kernel",
	BuildingBootInfo:     "building boot info",
	CheckingReadiness:    "checking readiness",
	ReadyForTransfer:     "ready for transfer",
	TransferringControl:  "transferring control",
	Failed:               "failed",
	Halted:               "halted",
}

func (s Stage) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return "unknown"
}

// IsTerminal reports whether no further transitions exist from s.
// TransferringControl is terminal because control never returns.
func (s Stage) IsTerminal() bool {
	return s == TransferringControl || s == Failed || s == Halted
}

// successors is the authoritative forward-edge table. Every non-terminal
// stage has exactly one success successor; Failed is reachable from any
// non-terminal stage and is not listed here.
var successors = map[Stage]Stage{
	Uninitialized:        Initializing,
	Initializing:         DetectingEnvironment,
	DetectingEnvironment: AcquiringMemoryMap,
	AcquiringMemoryMap:   ValidatingMedia,
	ValidatingMedia:      LoadingKernel,
	LoadingKernel:        VerifyingKernel,
	VerifyingKernel:      BuildingBootInfo,
	BuildingBootInfo:     CheckingReadiness,
	CheckingReadiness:    ReadyForTransfer,
	ReadyForTransfer:     TransferringControl,
}

// Next returns the success successor of s. The second result is false for
// terminal stages.
func Next(s Stage) (Stage, bool) {
	n, ok := successors[s]
	return n, ok
}

// CanAdvance reports whether the transition from -> to is legal: the
// single forward success edge, or a jump to Failed or Halted from any
// non-terminal stage. Terminal stages admit no transitions at all.
func CanAdvance(from, to Stage) bool {
	if from.IsTerminal() {
		return false
	}
	if to == Failed || to == Halted {
		return true
	}
	n, ok := successors[from]
	return ok && n == to
}

// Progress returns the percentage of the pipeline completed at s. It is a
// derived view only; Failed and Halted report the progress of the last
// stage reached is not recoverable from the stage alone, so they report 0.
func Progress(s Stage) int {
	switch {
	case s == Failed || s == Halted:
		return 0
	case s >= TransferringControl:
		return 100
	case s <= Uninitialized:
		return 0
	}
	// Ten working stages between Uninitialized and TransferringControl.
	return int(s) * 100 / int(TransferringControl)
}
