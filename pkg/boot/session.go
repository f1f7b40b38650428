// Package boot owns the boot attempt state machine.
//
// A Session is the single mutable aggregate of one boot attempt. It is
// exclusively owned by the one boot thread of control: no locking, no
// ambient globals, no way back once control transfers. The pipeline runs
// strictly forward through the stage sequence; any step failure is
// terminal for the session and a fresh Session is the only retry.
package boot

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/nos-project/nosboot/pkg/bootinfo"
	"github.com/nos-project/nosboot/pkg/diagnostics"
	"github.com/nos-project/nosboot/pkg/envprobe"
	"github.com/nos-project/nosboot/pkg/handproto"
	"github.com/nos-project/nosboot/pkg/kernelimage"
	"github.com/nos-project/nosboot/pkg/media"
	"github.com/nos-project/nosboot/pkg/memmap"
	"github.com/nos-project/nosboot/pkg/observability"
	"github.com/nos-project/nosboot/pkg/readiness"
	"github.com/nos-project/nosboot/pkg/stage"
)

// ControlTransfer is the one-way jump into the loaded kernel. On real
// hardware the call never returns; simulations return normally so tests
// can observe the hand-off values.
type ControlTransfer interface {
	Transfer(entryPoint, bootInfoAddr uint64)
}

// TransferFunc adapts a plain function to ControlTransfer.
type TransferFunc func(entryPoint, bootInfoAddr uint64)

func (f TransferFunc) Transfer(entryPoint, bootInfoAddr uint64) { f(entryPoint, bootInfoAddr) }

// Deps holds the external collaborators one session drives. All of them
// arrive as in-memory values from the environment layer; the session has
// no configuration surface of its own.
type Deps struct {
	Firmware envprobe.FirmwareQuery
	Policy   memmap.LayoutPolicy
	Device   media.Device
	Memory   kernelimage.Memory
	Transfer ControlTransfer

	// Modules are extra payloads handed to the kernel alongside the
	// memory map (ramdisks, configuration blobs).
	Modules []bootinfo.Module

	// LoaderIdentity is embedded in the hand-off payload. Metadata only.
	LoaderIdentity string
	// CommandLine is passed through to the kernel verbatim.
	CommandLine string

	// BootInfoAddress and MemoryMapAddress place the encoded payload.
	// When both are set, the historical ordering check between them is
	// applied (see bootinfo.CheckPlacement).
	BootInfoAddress  uint64
	MemoryMapAddress uint64

	// Protocol gates the kernel's announced hand-off protocol version.
	// Nil falls back to handproto.DefaultGate.
	Protocol *handproto.Gate

	// Telemetry is optional; nil is a no-op.
	Telemetry *observability.Provider
}

// Session is one boot attempt. Created once, mutated only by its own
// operations, never destroyed: it ends in a terminal stage or the machine
// halts.
type Session struct {
	id   uuid.UUID
	deps Deps

	stage        stage.Stage
	checklist    diagnostics.Checklist
	errorLedger  diagnostics.ErrorLedger
	diagLog      diagnostics.Log
	readiness    *readiness.Checker
	attemptCount int

	firmware    envprobe.FirmwareType
	regions     *memmap.RegionTable
	image       *kernelimage.LoadedImage
	measurement kernelimage.Measurement
	measured    bool
	protocol    *semver.Version
	info        *bootinfo.BootInformation
}

// NewSession creates a session at Uninitialized.
func NewSession(deps Deps) *Session {
	return &Session{
		id:        uuid.New(),
		deps:      deps,
		stage:     stage.Uninitialized,
		readiness: readiness.NewChecker(),
	}
}

// ID returns the session's identity, used to correlate reports.
func (s *Session) ID() uuid.UUID { return s.id }

// Stage returns the current stage.
func (s *Session) Stage() stage.Stage { return s.stage }

// Progress returns the derived completion percentage.
func (s *Session) Progress() int { return stage.Progress(s.stage) }

// AttemptCount returns how many times Initialize has run on this session.
func (s *Session) AttemptCount() int { return s.attemptCount }

// Checklist exposes the verification gates for reporting.
func (s *Session) Checklist() *diagnostics.Checklist { return &s.checklist }

// Errors exposes the error ledger for reporting.
func (s *Session) Errors() *diagnostics.ErrorLedger { return &s.errorLedger }

// Diagnostics exposes the event log for reporting.
func (s *Session) Diagnostics() *diagnostics.Log { return &s.diagLog }

// Readiness exposes the readiness checker so environment-specific code can
// record its checks (CPU features, descriptor tables, paging) and assert
// the stack/heap/power flags before CheckReadiness runs.
func (s *Session) Readiness() *readiness.Checker { return s.readiness }

// Firmware returns the detected firmware type, Unknown before probing.
func (s *Session) Firmware() envprobe.FirmwareType { return s.firmware }

// Image returns the loaded kernel image, nil before LoadKernel.
func (s *Session) Image() *kernelimage.LoadedImage { return s.image }

// Measurement returns the image measurement; the second result is false
// when no measurement was taken.
func (s *Session) Measurement() (kernelimage.Measurement, bool) {
	return s.measurement, s.measured
}

// Protocol returns the negotiated hand-off protocol version, nil before
// the kernel header is verified.
func (s *Session) Protocol() *semver.Version { return s.protocol }

// BootInformation returns the hand-off payload, nil before BuildBootInfo.
func (s *Session) BootInformation() *bootinfo.BootInformation { return s.info }

// StatusReport renders the session for humans. Always available,
// whatever the outcome; this is the sole crash-report surface before
// control transfer or halt.
func (s *Session) StatusReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Boot Session %s ===\n", s.id)
	fmt.Fprintf(&b, "stage: %s (%d%%)  attempt: %d  firmware: %s\n",
		s.stage, s.Progress(), s.attemptCount, s.firmware)
	b.WriteString("checklist:\n")
	b.WriteString(s.checklist.Summary())

	if errs := s.errorLedger.Entries(); len(errs) > 0 {
		fmt.Fprintf(&b, "errors (%d recorded, %d dropped):\n",
			s.errorLedger.Len(), s.errorLedger.Dropped())
		for _, e := range errs {
			fmt.Fprintf(&b, "  at %q: %s\n", e.Stage, e.Message)
		}
	} else {
		b.WriteString("errors: none\n")
	}
	return b.String()
}

// DiagnosticsSummary renders the event log and the readiness battery.
func (s *Session) DiagnosticsSummary() string {
	return s.diagLog.Summary() + s.readiness.Report()
}
