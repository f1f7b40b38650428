package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nos-project/nosboot/pkg/boot"
	"github.com/nos-project/nosboot/pkg/config"
	"github.com/nos-project/nosboot/pkg/envprobe"
	"github.com/nos-project/nosboot/pkg/failurestore"
	"github.com/nos-project/nosboot/pkg/kernelimage"
	"github.com/nos-project/nosboot/pkg/media"
	"github.com/nos-project/nosboot/pkg/memmap"
	"github.com/nos-project/nosboot/pkg/observability"
	"github.com/nos-project/nosboot/pkg/readiness"
	"github.com/nos-project/nosboot/pkg/report"
)

// runSimulateCmd implements `bootreport simulate`.
//
// It runs a full boot attempt against a kernel image file, with simulated
// firmware, media, and memory, and writes the session report as YAML.
// Flag defaults come from the NOSBOOT_* environment.
//
// Exit codes:
//
//	0 = the attempt reached control transfer
//	1 = the attempt failed; the report says where
//	2 = runtime error
func runSimulateCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	cmd := flag.NewFlagSet("simulate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		kernelPath  string
		cmdline     string
		identity    string
		outFile     string
		storePath   string
		profilesDir string
		profileCode string
		loadAddr    uint64
		entryOffset uint64
		telemetry   string
	)

	cmd.StringVar(&kernelPath, "kernel", "", "Path to raw kernel image (REQUIRED)")
	cmd.StringVar(&cmdline, "cmdline", "", "Kernel command line")
	cmd.StringVar(&identity, "identity", cfg.LoaderIdentity, "Loader identity string")
	cmd.StringVar(&outFile, "out", "", "Write the YAML report to a file instead of stdout")
	cmd.StringVar(&storePath, "store", cfg.StorePath, "Record failed attempts into this SQLite store")
	cmd.StringVar(&profilesDir, "profiles", "profiles", "Directory holding machine profiles")
	cmd.StringVar(&profileCode, "profile", "", "Simulate the machine profile with this code")
	cmd.Uint64Var(&loadAddr, "load-addr", 0x100000, "Physical load address")
	cmd.Uint64Var(&entryOffset, "entry-offset", 0, "Entry point offset from the load address")
	cmd.StringVar(&telemetry, "otlp", cfg.OTLPEndpoint, "OTLP gRPC endpoint for spans and metrics")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if kernelPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -kernel is required")
		return 2
	}

	image, err := os.ReadFile(kernelPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read kernel: %v\n", err)
		return 2
	}
	if len(image) < kernelimage.HeaderSize {
		_, _ = fmt.Fprintf(stderr, "Error: image %s is smaller than one header\n", kernelPath)
		return 2
	}

	params := simParams{
		cmdline:     cmdline,
		identity:    identity,
		loadAddr:    loadAddr,
		entryOffset: entryOffset,
		firmware:    envprobe.BIOS,
		sectorSize:  512,
	}
	if profileCode != "" {
		profile, err := config.LoadProfile(profilesDir, profileCode)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		params.applyProfile(profile)
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if telemetry != "" {
		ocfg := observability.DefaultConfig()
		ocfg.OTLPEndpoint = telemetry
		provider, err := observability.New(ctx, ocfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
			return 2
		}
		defer func() { _ = provider.Shutdown(ctx) }()
		params.telemetry = provider
	}

	session, err := simulate(ctx, image, params)
	if err != nil {
		logger.Error("boot attempt failed", "error", err, "stage", session.Stage().String())
	}

	r := report.FromSession(session)
	if code := writeReport(r, outFile, stdout, stderr); code != 0 {
		return code
	}

	if err != nil && storePath != "" {
		store, serr := failurestore.Open(storePath)
		if serr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: open store: %v\n", serr)
			return 2
		}
		defer func() { _ = store.Close() }()
		if serr := store.Record(ctx, r); serr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: record failure: %v\n", serr)
			return 2
		}
		logger.Info("failure recorded", "session", r.SessionID, "store", storePath)
	}

	if err != nil {
		return 1
	}
	return 0
}

type simParams struct {
	cmdline      string
	identity     string
	loadAddr     uint64
	entryOffset  uint64
	bootInfoAddr uint64
	firmware     envprobe.FirmwareType
	sectorSize   uint32
	memoryMap    []memmap.RawRegion
	telemetry    *observability.Provider
}

func (p *simParams) applyProfile(profile *config.MachineProfile) {
	if profile.Firmware == "UEFI" {
		p.firmware = envprobe.UEFI
	}
	if profile.CommandLine != "" && p.cmdline == "" {
		p.cmdline = profile.CommandLine
	}
	if profile.Placement.LoadAddress != 0 {
		p.loadAddr = profile.Placement.LoadAddress
	}
	p.entryOffset = profile.Placement.EntryOffset
	p.bootInfoAddr = profile.Placement.BootInfoAddress
	p.sectorSize = profile.Drive.SectorSize
	p.memoryMap = profile.RawRegions()
}

// defaultMemoryMap is the simulated firmware map used when no profile is
// given: conventional low memory plus a high window large enough for the
// image.
func defaultMemoryMap(loadAddr, size uint64) []memmap.RawRegion {
	return []memmap.RawRegion{
		{Base: 0x0, Length: 0x9FC00, TypeCode: 1},
		{Base: 0x9FC00, Length: 0x400, TypeCode: 2},
		{Base: loadAddr, Length: size + 0x10000, TypeCode: 1},
	}
}

type simDevice struct {
	image      []byte
	sectorSize uint32
}

func (d *simDevice) Geometry() media.DriveGeometry {
	ss := uint64(d.sectorSize)
	return media.DriveGeometry{
		SectorSize:   d.sectorSize,
		TotalSectors: (uint64(len(d.image)) + ss - 1) / ss,
	}
}

func (d *simDevice) ReadSectors(startLBA, count uint64, dst []byte) (int, error) {
	ss := uint64(d.sectorSize)
	start := startLBA * ss
	if start >= uint64(len(d.image)) {
		return 0, fmt.Errorf("read past end of image at LBA %d", startLBA)
	}
	end := start + count*ss
	if end > uint64(len(d.image)) {
		end = uint64(len(d.image))
	}
	n := copy(dst, d.image[start:end])
	// The tail of the last sector reads as zeros, like a real drive
	// serving a zero-padded image.
	for i := n; i < len(dst) && uint64(i) < count*ss; i++ {
		dst[i] = 0
		n++
	}
	return n, nil
}

type simMemory struct{ b []byte }

func (m *simMemory) WriteAt(p []byte, addr uint64) (int, error) {
	if addr+uint64(len(p)) > uint64(len(m.b)) {
		return 0, fmt.Errorf("write beyond simulated memory at %#x", addr)
	}
	return copy(m.b[addr:], p), nil
}

func (m *simMemory) ReadAt(p []byte, addr uint64) (int, error) {
	if addr+uint64(len(p)) > uint64(len(m.b)) {
		return 0, fmt.Errorf("read beyond simulated memory at %#x", addr)
	}
	return copy(p, m.b[addr:]), nil
}

// simulate drives one full boot attempt. The returned session is valid
// whatever the error; the caller reports from it.
func simulate(ctx context.Context, image []byte, p simParams) (*boot.Session, error) {
	ss := uint64(p.sectorSize)
	sectors := (uint64(len(image)) + ss - 1) / ss
	memSize := p.loadAddr + sectors*ss + 0x10000

	memoryMap := p.memoryMap
	if memoryMap == nil {
		memoryMap = defaultMemoryMap(p.loadAddr, sectors*ss)
	}

	session := boot.NewSession(boot.Deps{
		Firmware:        envprobe.QueryFunc(func() (envprobe.FirmwareType, error) { return p.firmware, nil }),
		Device:          &simDevice{image: image, sectorSize: p.sectorSize},
		Memory:          &simMemory{b: make([]byte, memSize)},
		Transfer:        boot.TransferFunc(func(uint64, uint64) {}),
		LoaderIdentity:  p.identity,
		CommandLine:     p.cmdline,
		BootInfoAddress: p.bootInfoAddr,
		Telemetry:       p.telemetry,
	})

	// The simulated environment layer reports its own checks.
	for _, name := range []string{
		readiness.CheckCPUFeatures,
		readiness.CheckGDT,
		readiness.CheckIDT,
		readiness.CheckPaging,
	} {
		_ = session.Readiness().Record(name, readiness.Pass, "simulated")
	}
	session.Readiness().StackValid = true
	session.Readiness().HeapValid = true
	session.Readiness().PowerStatus = true

	err := session.ExecuteComplete(ctx, boot.Inputs{
		MemoryMap: memoryMap,
		Load: kernelimage.LoadParams{
			StartLBA:    0,
			SectorCount: sectors,
			LoadAddress: p.loadAddr,
			EntryOffset: p.entryOffset,
		},
		Magic:    binary.LittleEndian.Uint32(image[0:4]),
		Checksum: binary.LittleEndian.Uint32(image[12:16]),
	})
	return session, err
}

func writeReport(r *report.Report, outFile string, stdout, stderr io.Writer) int {
	raw, err := r.EncodeYAML()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode report: %v\n", err)
		return 2
	}
	if outFile == "" {
		_, _ = stdout.Write(raw)
		return 0
	}
	if err := os.WriteFile(outFile, raw, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write report: %v\n", err)
		return 2
	}
	return 0
}
