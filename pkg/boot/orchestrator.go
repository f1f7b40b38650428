package boot

import (
	"context"
	"errors"
	"fmt"

	"github.com/nos-project/nosboot/pkg/bootinfo"
	"github.com/nos-project/nosboot/pkg/diagnostics"
	"github.com/nos-project/nosboot/pkg/envprobe"
	"github.com/nos-project/nosboot/pkg/handproto"
	"github.com/nos-project/nosboot/pkg/kernelimage"
	"github.com/nos-project/nosboot/pkg/media"
	"github.com/nos-project/nosboot/pkg/memmap"
	"github.com/nos-project/nosboot/pkg/readiness"
	"github.com/nos-project/nosboot/pkg/stage"
)

// Event kinds recorded to the diagnostics log, one per pipeline edge.
const (
	eventInitialize = "initialize"
	eventProbe      = "probe environment"
	eventMemoryMap  = "acquire memory map"
	eventMedia      = "validate media"
	eventLoad       = "load kernel"
	eventMeasure    = "measure image"
	eventVerify     = "verify kernel"
	eventBootInfo   = "build boot info"
	eventReadiness  = "check readiness"
	eventTransfer   = "transfer control"
	eventHalt       = "halt"
)

// guard rejects an operation called out of order. Pure: no ledger writes,
// no stage change, so fail-fast idempotence holds once the session is
// Failed.
func (s *Session) guard(want stage.Stage) error {
	if s.stage != want {
		return &Error{Kind: KindInvalidStage, Stage: s.stage}
	}
	return nil
}

// fail is the single failure path: ledger entry (dropped silently when
// saturated), diagnostics failure event, stage jump to Failed. The error
// metric is owned by the stage span completion, not recorded here.
func (s *Session) fail(event string, kind Kind, gate string, cause error) error {
	e := &Error{Kind: kind, Stage: s.stage, Gate: gate, Err: cause}
	_ = s.errorLedger.Record(e.Error(), s.stage)
	_ = s.diagLog.Record(event, false)
	s.stage = stage.Failed
	return e
}

// advance records the success event and moves to the next stage.
func (s *Session) advance(event string, to stage.Stage) {
	_ = s.diagLog.Record(event, true)
	s.stage = to
}

// Initialize brings the session from Uninitialized to
// DetectingEnvironment. It validates that the required collaborators are
// present; a session without them cannot boot and fails here rather than
// deep in the pipeline.
func (s *Session) Initialize(ctx context.Context) (err error) {
	if err := s.guard(stage.Uninitialized); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventInitialize)
	defer func() { done(err) }()

	s.stage = stage.Initializing
	s.attemptCount++

	if s.deps.Firmware == nil || s.deps.Device == nil || s.deps.Memory == nil || s.deps.Transfer == nil {
		return s.fail(eventInitialize, KindInitialization, "",
			errors.New("missing collaborator"))
	}

	s.advance(eventInitialize, stage.DetectingEnvironment)
	return nil
}

// ProbeEnvironment detects the firmware environment.
func (s *Session) ProbeEnvironment(ctx context.Context) (err error) {
	if err := s.guard(stage.DetectingEnvironment); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventProbe)
	defer func() { done(err) }()

	fw, perr := envprobe.Probe(s.deps.Firmware)
	if perr != nil {
		return s.fail(eventProbe, KindEnvironmentDetection, "", perr)
	}
	s.firmware = fw
	s.advance(eventProbe, stage.AcquiringMemoryMap)
	return nil
}

// AcquireMemoryMap adapts the firmware memory map and validates it
// against the layout policy.
func (s *Session) AcquireMemoryMap(ctx context.Context, raw []memmap.RawRegion) (err error) {
	if err := s.guard(stage.AcquiringMemoryMap); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventMemoryMap)
	defer func() { done(err) }()

	tbl, aerr := memmap.Adapt(raw, s.deps.Policy)
	if aerr != nil {
		return s.fail(eventMemoryMap, KindMemoryLayout, "", aerr)
	}
	s.regions = tbl
	s.checklist.Pass(diagnostics.MemoryDetected)
	s.checklist.Pass(diagnostics.MemoryValidated)
	_ = s.readiness.Record(readiness.CheckMemoryMap, readiness.Pass,
		fmt.Sprintf("%d regions", tbl.Len()))
	_ = s.readiness.Record(readiness.CheckMemoryConfig, readiness.Pass,
		fmt.Sprintf("%d bytes usable", tbl.TotalUsable()))
	s.advance(eventMemoryMap, stage.ValidatingMedia)
	return nil
}

// ValidateMedia confirms the boot device is accessible.
func (s *Session) ValidateMedia(ctx context.Context) (err error) {
	if err := s.guard(stage.ValidatingMedia); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventMedia)
	defer func() { done(err) }()

	if verr := media.Validate(s.deps.Device); verr != nil {
		return s.fail(eventMedia, KindMediaInaccessible, "", verr)
	}
	s.checklist.Pass(diagnostics.MediaAccessible)
	_ = s.readiness.Record(readiness.CheckMediaIface, readiness.Pass, "")
	s.advance(eventMedia, stage.LoadingKernel)
	return nil
}

// LoadKernel copies the kernel image into its load window. The image is
// also measured for the post-mortem record; a failed measurement is
// logged but never fails the load.
func (s *Session) LoadKernel(ctx context.Context, params kernelimage.LoadParams) (err error) {
	if err := s.guard(stage.LoadingKernel); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventLoad)
	defer func() { done(err) }()

	img, lerr := kernelimage.Load(s.deps.Device, s.deps.Memory, params)
	if lerr != nil {
		return s.fail(eventLoad, KindKernelLoad, "", lerr)
	}
	s.image = img

	if m, merr := kernelimage.Measure(img, s.deps.Memory); merr == nil {
		s.measurement = m
		s.measured = true
		_ = s.diagLog.Record(eventMeasure, true)
	} else {
		_ = s.diagLog.Record(eventMeasure, false)
	}

	s.checklist.Pass(diagnostics.KernelLoaded)
	s.advance(eventLoad, stage.VerifyingKernel)
	return nil
}

// VerifyKernel checks the image header: the caller passes the magic and
// checksum words it read from the header, and the version and flags words
// are decoded from the load window. Every check, the protocol gate
// included, runs on a local candidate signature; a failed verification
// leaves the image untouched.
func (s *Session) VerifyKernel(ctx context.Context, magic, checksum uint32) (err error) {
	if err := s.guard(stage.VerifyingKernel); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventVerify)
	defer func() { done(err) }()

	raw := make([]byte, kernelimage.HeaderSize)
	if _, rerr := s.deps.Memory.ReadAt(raw, s.image.LoadAddress+kernelimage.HeaderOffset); rerr != nil {
		return s.fail(eventVerify, KindKernelLoad, "", rerr)
	}
	decoded, derr := kernelimage.DecodeSignature(raw)
	if derr != nil {
		return s.fail(eventVerify, KindKernelLoad, "", derr)
	}

	sig := kernelimage.Signature{
		Magic:    magic,
		Version:  decoded.Version,
		Flags:    decoded.Flags,
		Checksum: checksum,
	}
	if verr := kernelimage.CheckSignature(sig); verr != nil {
		kind := KindInvalidSignature
		if errors.Is(verr, kernelimage.ErrChecksumMismatch) {
			kind = KindChecksumMismatch
		}
		return s.fail(eventVerify, kind, "", verr)
	}

	gate := s.deps.Protocol
	if gate == nil {
		gate = handproto.DefaultGate()
	}
	proto, gerr := gate.Accept(sig.Version)
	if gerr != nil {
		return s.fail(eventVerify, KindProtocolMismatch, "", gerr)
	}

	s.image.Signature = sig
	s.image.Verified = true
	s.protocol = proto

	s.checklist.Pass(diagnostics.KernelValid)
	_ = s.readiness.Record(readiness.CheckKernelSig, readiness.Pass, "")
	_ = s.readiness.Record(readiness.CheckKernelHeader, readiness.Pass, "")
	s.advance(eventVerify, stage.BuildingBootInfo)
	return nil
}

// BuildBootInfo assembles and validates the hand-off payload, and when a
// boot info address is configured, encodes it into the load window.
func (s *Session) BuildBootInfo(ctx context.Context) (err error) {
	if err := s.guard(stage.BuildingBootInfo); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventBootInfo)
	defer func() { done(err) }()

	if s.regions == nil {
		return s.fail(eventBootInfo, KindBootInfoIncomplete, "",
			errors.New("memory map absent"))
	}

	b := bootinfo.NewBuilder(s.deps.LoaderIdentity).
		WithRegions(s.regions).
		WithCommandLine(s.deps.CommandLine)
	for _, m := range s.deps.Modules {
		b.AddModule(m)
	}
	info, berr := b.Build()
	if berr != nil {
		return s.fail(eventBootInfo, KindBootInfoIncomplete, "", berr)
	}
	if verr := info.Validate(); verr != nil {
		return s.fail(eventBootInfo, KindBootInfoIncomplete, "", verr)
	}

	if s.deps.BootInfoAddress != 0 && s.deps.MemoryMapAddress != 0 {
		if perr := bootinfo.CheckPlacement(s.deps.BootInfoAddress, s.deps.MemoryMapAddress); perr != nil {
			return s.fail(eventBootInfo, KindBootInfoIncomplete, "", perr)
		}
	}
	if s.deps.BootInfoAddress != 0 {
		encoded, eerr := info.Encode()
		if eerr == nil {
			_, werr := s.deps.Memory.WriteAt(encoded, s.deps.BootInfoAddress)
			eerr = werr
		}
		if eerr != nil {
			return s.fail(eventBootInfo, KindBootInfoIncomplete, "", eerr)
		}
	}

	s.info = info
	s.checklist.Pass(diagnostics.BootInfoValid)
	_ = s.readiness.Record(readiness.CheckBootInfo, readiness.Pass, "")
	s.advance(eventBootInfo, stage.CheckingReadiness)
	return nil
}

// CheckReadiness aggregates the verification checklist, the recorded
// readiness battery, and the environment flags into the final verdict. It
// records nothing new; readiness is a pure function of recorded state.
func (s *Session) CheckReadiness(ctx context.Context) (err error) {
	if err := s.guard(stage.CheckingReadiness); err != nil {
		return err
	}
	_, done := s.deps.Telemetry.TrackStage(ctx, eventReadiness)
	defer func() { done(err) }()

	if gate, open := s.checklist.FirstUnpassed(); open {
		return s.fail(eventReadiness, KindReadinessCheck, gate.String(),
			errors.New("checklist gate not passed"))
	}
	if !s.readiness.Ready() {
		gate, _ := s.readiness.FirstFailure()
		return s.fail(eventReadiness, KindReadinessCheck, gate,
			errors.New("system readiness check failed"))
	}

	s.advance(eventReadiness, stage.ReadyForTransfer)
	return nil
}

// TransferControl hands execution to the loaded kernel. It refuses, with
// no state change of any kind, unless the session is at ReadyForTransfer.
// On real hardware the call does not return; when a simulated transfer
// collaborator returns, so does this method, with the session parked at
// the terminal TransferringControl stage.
func (s *Session) TransferControl(ctx context.Context) error {
	if s.stage != stage.ReadyForTransfer {
		return &Error{Kind: KindInvalidStage, Stage: s.stage}
	}

	_, done := s.deps.Telemetry.TrackStage(ctx, eventTransfer)
	_ = s.diagLog.Record(eventTransfer, true)
	s.stage = stage.TransferringControl

	// Point of no return: on real hardware the transfer never comes back
	// and the span stays open. A simulated transfer returns and the span
	// then covers the whole hand-off.
	s.deps.Transfer.Transfer(s.image.EntryPoint, s.deps.BootInfoAddress)
	done(nil)
	return nil
}

// Halt parks a non-terminal session at Halted. It is an orderly operator
// stop, not a failure: the ledgers are left as they are.
func (s *Session) Halt() error {
	if s.stage.IsTerminal() {
		return &Error{Kind: KindInvalidStage, Stage: s.stage}
	}
	_ = s.diagLog.Record(eventHalt, true)
	s.stage = stage.Halted
	return nil
}

// Inputs carries everything ExecuteComplete needs to drive a full boot
// attempt.
type Inputs struct {
	MemoryMap []memmap.RawRegion
	Load      kernelimage.LoadParams
	Magic     uint32
	Checksum  uint32
}

// ExecuteComplete runs the whole pipeline in order from Uninitialized,
// short-circuiting on the first error, and finishes with the control
// transfer. On real hardware a nil return is never observed.
func (s *Session) ExecuteComplete(ctx context.Context, in Inputs) error {
	if err := s.guard(stage.Uninitialized); err != nil {
		return err
	}
	steps := []func(context.Context) error{
		s.Initialize,
		s.ProbeEnvironment,
		func(ctx context.Context) error { return s.AcquireMemoryMap(ctx, in.MemoryMap) },
		s.ValidateMedia,
		func(ctx context.Context) error { return s.LoadKernel(ctx, in.Load) },
		func(ctx context.Context) error { return s.VerifyKernel(ctx, in.Magic, in.Checksum) },
		s.BuildBootInfo,
		s.CheckReadiness,
		s.TransferControl,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}
