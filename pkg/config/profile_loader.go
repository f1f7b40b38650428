package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nos-project/nosboot/pkg/memmap"
)

// MachineProfile describes a simulated machine for boot attempts: its
// firmware, drive geometry, and firmware memory map. Profiles let the
// tooling replay boot behavior of known machine shapes without hardware.
type MachineProfile struct {
	Name        string          `yaml:"name" json:"name"`
	Code        string          `yaml:"code" json:"code"`
	Firmware    string          `yaml:"firmware" json:"firmware"`
	CommandLine string          `yaml:"command_line,omitempty" json:"command_line,omitempty"`
	Drive       DriveConfig     `yaml:"drive" json:"drive"`
	MemoryMap   []RegionConfig  `yaml:"memory_map" json:"memory_map"`
	Placement   PlacementConfig `yaml:"placement" json:"placement"`
}

// DriveConfig describes the simulated boot drive.
type DriveConfig struct {
	SectorSize   uint32 `yaml:"sector_size" json:"sector_size"`
	TotalSectors uint64 `yaml:"total_sectors,omitempty" json:"total_sectors,omitempty"`
}

// RegionConfig is one firmware memory map entry.
type RegionConfig struct {
	Base     uint64 `yaml:"base" json:"base"`
	Length   uint64 `yaml:"length" json:"length"`
	TypeCode uint32 `yaml:"type" json:"type"`
}

// PlacementConfig fixes where the kernel and hand-off payload land.
type PlacementConfig struct {
	LoadAddress     uint64 `yaml:"load_address" json:"load_address"`
	EntryOffset     uint64 `yaml:"entry_offset,omitempty" json:"entry_offset,omitempty"`
	BootInfoAddress uint64 `yaml:"boot_info_address,omitempty" json:"boot_info_address,omitempty"`
}

// RawRegions converts the profile's memory map to firmware entries.
func (p *MachineProfile) RawRegions() []memmap.RawRegion {
	out := make([]memmap.RawRegion, 0, len(p.MemoryMap))
	for _, r := range p.MemoryMap {
		out = append(out, memmap.RawRegion{Base: r.Base, Length: r.Length, TypeCode: r.TypeCode})
	}
	return out
}

// LoadProfile loads a machine profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*MachineProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile MachineProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	if profile.Drive.SectorSize == 0 {
		profile.Drive.SectorSize = 512
	}
	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*MachineProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*MachineProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile MachineProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		if profile.Drive.SectorSize == 0 {
			profile.Drive.SectorSize = 512
		}
		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
