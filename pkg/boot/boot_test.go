package boot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// physWindow is a byte-slice-backed physical window shared by the loader
// and the boot info encoder.
type physWindow struct {
	base uint64
	b    []byte
}

func newPhysWindow(base uint64, size int) *physWindow {
	return &physWindow{base: base, b: make([]byte, size)}
}

func (w *physWindow) slice(p []byte, addr uint64) ([]byte, error) {
	if addr < w.base || addr+uint64(len(p)) > w.base+uint64(len(w.b)) {
		return nil, fmt.Errorf("access outside window at %#x", addr)
	}
	off := addr - w.base
	return w.b[off : off+uint64(len(p))], nil
}

func (w *physWindow) WriteAt(p []byte, addr uint64) (int, error) {
	dst, err := w.slice(p, addr)
	if err != nil {
		return 0, err
	}
	return copy(dst, p), nil
}

func (w *physWindow) ReadAt(p []byte, addr uint64) (int, error) {
	src, err := w.slice(p, addr)
	if err != nil {
		return 0, err
	}
	return copy(p, src), nil
}

// bootDevice serves a fixed image as 512-byte sectors.
type bootDevice struct {
	image   []byte
	readErr error
}

func (d *bootDevice) Geometry() media.DriveGeometry {
	return media.DriveGeometry{SectorSize: 512, TotalSectors: uint64(len(d.image)) / 512}
}

func (d *bootDevice) ReadSectors(startLBA, count uint64, dst []byte) (int, error) {
	if d.readErr != nil {
		return 0, d.readErr
	}
	start := startLBA * 512
	end := start + count*512
	if end > uint64(len(d.image)) {
		end = uint64(len(d.image))
	}
	return copy(dst, d.image[start:end]), nil
}

// transferRecorder captures the hand-off instead of jumping.
type transferRecorder struct {
	called       bool
	entryPoint   uint64
	bootInfoAddr uint64
}

func (t *transferRecorder) Transfer(entryPoint, bootInfoAddr uint64) {
	t.called = true
	t.entryPoint = entryPoint
	t.bootInfoAddr = bootInfoAddr
}

// goodKernel builds a two-sector image whose header passes both checks.
func goodKernel() []byte {
	img := make([]byte, 1024)
	binary.LittleEndian.PutUint32(img[0:4], kernelimage.Magic)
	binary.LittleEndian.PutUint32(img[4:8], 0x00010000)
	binary.LittleEndian.PutUint32(img[8:12], 0)
	binary.LittleEndian.PutUint32(img[12:16], 0x17ACAF2A)
	copy(img[16:], "kernel payload")
	return img
}

const (
	loadAddr     = uint64(0x10000)
	bootInfoAddr = uint64(0x9000)
	memMapAddr   = uint64(0xA000)
)

// lowMemoryMap is the classic PC layout: 639 KiB of usable conventional
// memory below the EBDA, the rest reserved.
func lowMemoryMap() []memmap.RawRegion {
	return []memmap.RawRegion{
		{Base: 0x0, Length: 0x9FC00, TypeCode: 1},
		{Base: 0x9FC00, Length: 0x400, TypeCode: 2},
		{Base: 0xF0000, Length: 0x10000, TypeCode: 2},
	}
}

type fixture struct {
	session  *Session
	device   *bootDevice
	memory   *physWindow
	transfer *transferRecorder
	load     kernelimage.LoadParams
}

func newFixture() *fixture {
	dev := &bootDevice{image: goodKernel()}
	mem := newPhysWindow(0x8000, 0x40000)
	xfer := &transferRecorder{}
	deps := Deps{
		Firmware:         envprobe.QueryFunc(func() (envprobe.FirmwareType, error) { return envprobe.BIOS, nil }),
		Device:           dev,
		Memory:           mem,
		Transfer:         xfer,
		LoaderIdentity:   "nosboot test",
		CommandLine:      "console=serial",
		BootInfoAddress:  bootInfoAddr,
		MemoryMapAddress: memMapAddr,
	}
	return &fixture{
		session:  NewSession(deps),
		device:   dev,
		memory:   mem,
		transfer: xfer,
		load:     kernelimage.LoadParams{StartLBA: 0, SectorCount: 2, LoadAddress: loadAddr, EntryOffset: 0x100},
	}
}

// assertEnvironmentReady records the checks and flags the environment
// layer reports outside the pipeline proper.
func assertEnvironmentReady(t *testing.T, s *Session) {
	t.Helper()
	for _, name := range []string{
		readiness.CheckCPUFeatures,
		readiness.CheckGDT,
		readiness.CheckIDT,
		readiness.CheckPaging,
	} {
		require.NoError(t, s.Readiness().Record(name, readiness.Pass, ""))
	}
	s.Readiness().StackValid = true
	s.Readiness().HeapValid = true
	s.Readiness().PowerStatus = true
}

// runTo drives the session up to, but not including, the named stage.
func runTo(t *testing.T, f *fixture, target stage.Stage) {
	t.Helper()
	ctx := context.Background()
	steps := []struct {
		at  stage.Stage
		run func() error
	}{
		{stage.Uninitialized, func() error { return f.session.Initialize(ctx) }},
		{stage.DetectingEnvironment, func() error { return f.session.ProbeEnvironment(ctx) }},
		{stage.AcquiringMemoryMap, func() error { return f.session.AcquireMemoryMap(ctx, lowMemoryMap()) }},
		{stage.ValidatingMedia, func() error { return f.session.ValidateMedia(ctx) }},
		{stage.LoadingKernel, func() error { return f.session.LoadKernel(ctx, f.load) }},
		{stage.VerifyingKernel, func() error { return f.session.VerifyKernel(ctx, kernelimage.Magic, 0x17ACAF2A) }},
		{stage.BuildingBootInfo, func() error { return f.session.BuildBootInfo(ctx) }},
		{stage.CheckingReadiness, func() error {
			assertEnvironmentReady(t, f.session)
			return f.session.CheckReadiness(ctx)
		}},
	}
	for _, step := range steps {
		if f.session.Stage() == target {
			return
		}
		require.Equal(t, step.at, f.session.Stage())
		require.NoError(t, step.run())
	}
}

func TestFullPipelineReachesTransfer(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.ReadyForTransfer)

	require.Equal(t, stage.ReadyForTransfer, f.session.Stage())
	assert.Equal(t, 90, f.session.Progress())
	assert.Equal(t, envprobe.BIOS, f.session.Firmware())
	assert.True(t, f.session.Checklist().AllPassed())
	assert.Equal(t, 0, f.session.Errors().Len())

	info := f.session.BootInformation()
	require.NotNil(t, info)
	assert.Equal(t, uint64(0x9FC00), info.TotalUsableMemory)
	assert.Equal(t, "console=serial", info.CommandLine)

	require.NoError(t, f.session.TransferControl(context.Background()))
	assert.Equal(t, stage.TransferringControl, f.session.Stage())
	assert.True(t, f.transfer.called)
	assert.Equal(t, loadAddr+0x100, f.transfer.entryPoint)
	assert.Equal(t, bootInfoAddr, f.transfer.bootInfoAddr)
}

func TestBadMagicFailsVerification(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.VerifyingKernel)

	err := f.session.VerifyKernel(context.Background(), 0x12345678, 0x17ACAF2A)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidSignature))
	assert.ErrorIs(t, err, kernelimage.ErrInvalidSignature)

	assert.Equal(t, stage.Failed, f.session.Stage())
	assert.False(t, f.session.Checklist().Passed(diagnostics.KernelValid))
	assert.Equal(t, 1, f.session.Errors().Len())
	assert.Equal(t, stage.VerifyingKernel, f.session.Errors().Entries()[0].Stage)
}

func TestChecksumMismatchFailsVerification(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.VerifyingKernel)

	err := f.session.VerifyKernel(context.Background(), kernelimage.Magic, 0xDEADBEEF)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindChecksumMismatch))
	assert.Equal(t, stage.Failed, f.session.Stage())
}

func TestUnsupportedProtocolFailsVerification(t *testing.T) {
	f := newFixture()
	// Version word announces protocol 2.0; the checksum word keeps the
	// wraparound sum at zero so only the protocol gate can reject it.
	binary.LittleEndian.PutUint32(f.device.image[4:8], 0x00020000)
	binary.LittleEndian.PutUint32(f.device.image[12:16], 0x17ABAF2A)
	runTo(t, f, stage.VerifyingKernel)

	err := f.session.VerifyKernel(context.Background(), kernelimage.Magic, 0x17ABAF2A)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProtocolMismatch))
	assert.ErrorIs(t, err, handproto.ErrUnsupportedVersion)
	assert.Equal(t, stage.Failed, f.session.Stage())
}

func TestFailedVerifyLeavesImageUntouched(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.VerifyingKernel)

	err := f.session.VerifyKernel(context.Background(), 0x12345678, 0x17ACAF2A)
	require.Error(t, err)

	img := f.session.Image()
	require.NotNil(t, img)
	assert.Zero(t, img.Signature, "no header words recorded on failure")
	assert.False(t, img.Verified)
}

func TestRejectedProtocolLeavesImageUnverified(t *testing.T) {
	f := newFixture()
	binary.LittleEndian.PutUint32(f.device.image[4:8], 0x00020000)
	binary.LittleEndian.PutUint32(f.device.image[12:16], 0x17ABAF2A)
	runTo(t, f, stage.VerifyingKernel)

	err := f.session.VerifyKernel(context.Background(), kernelimage.Magic, 0x17ABAF2A)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProtocolMismatch))

	img := f.session.Image()
	require.NotNil(t, img)
	assert.Zero(t, img.Signature)
	assert.False(t, img.Verified, "a gated image must not claim verification")
}

func TestNegotiatedProtocolRecorded(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.BuildingBootInfo)

	require.NotNil(t, f.session.Protocol())
	assert.Equal(t, "1.0.0", f.session.Protocol().String())
}

func TestEmptyMemoryMapFailsAtBootInfo(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.session.Initialize(ctx))
	require.NoError(t, f.session.ProbeEnvironment(ctx))
	require.NoError(t, f.session.AcquireMemoryMap(ctx, nil))
	require.NoError(t, f.session.ValidateMedia(ctx))
	require.NoError(t, f.session.LoadKernel(ctx, f.load))
	require.NoError(t, f.session.VerifyKernel(ctx, kernelimage.Magic, 0x17ACAF2A))

	err := f.session.BuildBootInfo(ctx)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBootInfoIncomplete))
	assert.ErrorIs(t, err, bootinfo.ErrEmptyMemoryMap)
	assert.Equal(t, stage.Failed, f.session.Stage())
}

func TestTransferRefusedBeforeReady(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.ValidatingMedia)

	before := f.session.Diagnostics().Len()
	err := f.session.TransferControl(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidStage))

	assert.Equal(t, stage.ValidatingMedia, f.session.Stage())
	assert.Equal(t, before, f.session.Diagnostics().Len())
	assert.Equal(t, 0, f.session.Errors().Len())
	assert.False(t, f.transfer.called)
}

func TestFailedSessionRejectsEverything(t *testing.T) {
	f := newFixture()
	f.device.readErr = errors.New("controller timeout")
	runTo(t, f, stage.ValidatingMedia)

	require.Error(t, f.session.ValidateMedia(context.Background()))
	require.Equal(t, stage.Failed, f.session.Stage())

	errsBefore := f.session.Errors().Len()
	diagBefore := f.session.Diagnostics().Len()

	ctx := context.Background()
	for _, op := range []func() error{
		func() error { return f.session.Initialize(ctx) },
		func() error { return f.session.ProbeEnvironment(ctx) },
		func() error { return f.session.AcquireMemoryMap(ctx, lowMemoryMap()) },
		func() error { return f.session.ValidateMedia(ctx) },
		func() error { return f.session.LoadKernel(ctx, f.load) },
		func() error { return f.session.VerifyKernel(ctx, kernelimage.Magic, 0x17ACAF2A) },
		func() error { return f.session.BuildBootInfo(ctx) },
		func() error { return f.session.CheckReadiness(ctx) },
		func() error { return f.session.TransferControl(ctx) },
	} {
		err := op()
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidStage))
	}

	assert.Equal(t, errsBefore, f.session.Errors().Len())
	assert.Equal(t, diagBefore, f.session.Diagnostics().Len())
	assert.Equal(t, stage.Failed, f.session.Stage())
}

func TestStageNeverRegresses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	last := f.session.Stage()
	for _, op := range []func() error{
		func() error { return f.session.Initialize(ctx) },
		func() error { return f.session.ProbeEnvironment(ctx) },
		func() error { return f.session.AcquireMemoryMap(ctx, lowMemoryMap()) },
		func() error { return f.session.ValidateMedia(ctx) },
		func() error { return f.session.LoadKernel(ctx, f.load) },
		func() error { return f.session.VerifyKernel(ctx, kernelimage.Magic, 0x17ACAF2A) },
		func() error { return f.session.BuildBootInfo(ctx) },
		func() error {
			assertEnvironmentReady(t, f.session)
			return f.session.CheckReadiness(ctx)
		},
		func() error { return f.session.TransferControl(ctx) },
	} {
		require.NoError(t, op())
		require.GreaterOrEqual(t, f.session.Stage(), last)
		last = f.session.Stage()
	}
	assert.Equal(t, stage.TransferringControl, last)
}

func TestReadinessBlockedByMissingGate(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.CheckingReadiness)

	// Environment checks and flags were never recorded.
	err := f.session.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindReadinessCheck))
	assert.Equal(t, stage.Failed, f.session.Stage())
}

func TestReadinessBlockedByRecordedFailure(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.CheckingReadiness)

	assertEnvironmentReady(t, f.session)
	require.NoError(t, f.session.Readiness().Record(readiness.CheckPaging, readiness.Fail, "PML4 missing"))

	err := f.session.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindReadinessCheck))

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, readiness.CheckPaging, be.Gate)
}

func TestMisplacedBootInfoFailsBuild(t *testing.T) {
	f := newFixture()
	f.session.deps.BootInfoAddress = memMapAddr + 0x1000
	runTo(t, f, stage.BuildingBootInfo)

	err := f.session.BuildBootInfo(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBootInfoIncomplete))
	assert.Equal(t, stage.Failed, f.session.Stage())
}

func TestBootInfoEncodedIntoWindow(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.CheckingReadiness)

	raw := make([]byte, 8)
	_, err := f.memory.ReadAt(raw, bootInfoAddr)
	require.NoError(t, err)
	assert.Equal(t, bootinfo.TagRegion, binary.LittleEndian.Uint32(raw[0:4]))
}

func TestImageMeasuredDuringLoad(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.VerifyingKernel)

	m, ok := f.session.Measurement()
	require.True(t, ok)
	assert.NotEqual(t, kernelimage.Measurement{}, m)
}

func TestHaltParksSession(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.ValidatingMedia)

	require.NoError(t, f.session.Halt())
	assert.Equal(t, stage.Halted, f.session.Stage())
	assert.Equal(t, 0, f.session.Progress())

	err := f.session.Halt()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidStage))
}

func TestExecuteCompleteHappyPath(t *testing.T) {
	f := newFixture()
	// The battery checks recorded by the pipeline itself are enough only
	// with the environment layer's contribution in place.
	assertEnvironmentReady(t, f.session)

	err := f.session.ExecuteComplete(context.Background(), Inputs{
		MemoryMap: lowMemoryMap(),
		Load:      f.load,
		Magic:     kernelimage.Magic,
		Checksum:  0x17ACAF2A,
	})
	require.NoError(t, err)
	assert.Equal(t, stage.TransferringControl, f.session.Stage())
	assert.True(t, f.transfer.called)
	assert.Equal(t, 1, f.session.AttemptCount())
}

func TestExecuteCompleteShortCircuits(t *testing.T) {
	f := newFixture()
	f.device.image[0] = 0xFF // corrupt the magic word

	err := f.session.ExecuteComplete(context.Background(), Inputs{
		MemoryMap: lowMemoryMap(),
		Load:      f.load,
		Magic:     binary.LittleEndian.Uint32(f.device.image[0:4]),
		Checksum:  0x17ACAF2A,
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidSignature))
	assert.Equal(t, stage.Failed, f.session.Stage())
	assert.False(t, f.transfer.called)
}

func TestExecuteCompleteOnlyFromUninitialized(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.AcquiringMemoryMap)

	err := f.session.ExecuteComplete(context.Background(), Inputs{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidStage))
	assert.Equal(t, stage.AcquiringMemoryMap, f.session.Stage())
}

func TestInitializeRequiresCollaborators(t *testing.T) {
	s := NewSession(Deps{})
	err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInitialization))
	assert.Equal(t, stage.Failed, s.Stage())
	assert.Equal(t, 1, s.AttemptCount())
}

func TestStatusReportAlwaysAvailable(t *testing.T) {
	f := newFixture()
	runTo(t, f, stage.VerifyingKernel)
	require.Error(t, f.session.VerifyKernel(context.Background(), 0, 0))

	report := f.session.StatusReport()
	assert.Contains(t, report, "stage: failed")
	assert.Contains(t, report, "errors (1 recorded, 0 dropped)")
	assert.Contains(t, f.session.DiagnosticsSummary(), "NOT READY")
}
