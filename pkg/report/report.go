// Package report renders a boot session as a portable post-mortem
// document. The document serializes to YAML for operators and to
// RFC 8785 canonical JSON for digesting, so two exports of the same
// session always digest identically.
package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
	"gopkg.in/yaml.v3"

	"github.com/nos-project/nosboot/pkg/boot"
	"github.com/nos-project/nosboot/pkg/diagnostics"
)

// GateStatus is one checklist gate in the export.
type GateStatus struct {
	Name   string `json:"name" yaml:"name"`
	Passed bool   `json:"passed" yaml:"passed"`
}

// ErrorRecord is one ledger entry in the export.
type ErrorRecord struct {
	Stage   string `json:"stage" yaml:"stage"`
	Message string `json:"message" yaml:"message"`
}

// EventRecord is one diagnostics event in the export.
type EventRecord struct {
	Ordinal uint64 `json:"ordinal" yaml:"ordinal"`
	Kind    string `json:"kind" yaml:"kind"`
	Success bool   `json:"success" yaml:"success"`
}

// CheckRecord is one readiness battery outcome in the export.
type CheckRecord struct {
	Name    string `json:"name" yaml:"name"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// BootInfoRecord summarizes the hand-off payload in the export.
type BootInfoRecord struct {
	TotalUsableMemory    uint64 `json:"total_usable_memory" yaml:"total_usable_memory"`
	HighestUsableAddress uint64 `json:"highest_usable_address" yaml:"highest_usable_address"`
	CommandLine          string `json:"command_line,omitempty" yaml:"command_line,omitempty"`
	LoaderIdentity       string `json:"loader_identity,omitempty" yaml:"loader_identity,omitempty"`
	Modules              int    `json:"modules" yaml:"modules"`
}

// Report is the complete session export.
type Report struct {
	SessionID   string `json:"session_id" yaml:"session_id"`
	Stage       string `json:"stage" yaml:"stage"`
	Progress    int    `json:"progress" yaml:"progress"`
	Attempt     int    `json:"attempt" yaml:"attempt"`
	Firmware    string `json:"firmware" yaml:"firmware"`
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Measurement string `json:"measurement,omitempty" yaml:"measurement,omitempty"`

	Checklist []GateStatus  `json:"checklist" yaml:"checklist"`
	Errors    []ErrorRecord `json:"errors,omitempty" yaml:"errors,omitempty"`
	Events    []EventRecord `json:"events,omitempty" yaml:"events,omitempty"`
	Readiness []CheckRecord `json:"readiness,omitempty" yaml:"readiness,omitempty"`

	DroppedErrors int `json:"dropped_errors" yaml:"dropped_errors"`
	DroppedEvents int `json:"dropped_events" yaml:"dropped_events"`

	Ready    bool            `json:"ready" yaml:"ready"`
	BootInfo *BootInfoRecord `json:"boot_info,omitempty" yaml:"boot_info,omitempty"`
}

// FromSession snapshots a session. The session may be at any stage; a
// half-finished or failed session exports whatever it recorded.
func FromSession(s *boot.Session) *Report {
	r := &Report{
		SessionID: s.ID().String(),
		Stage:     s.Stage().String(),
		Progress:  s.Progress(),
		Attempt:   s.AttemptCount(),
		Firmware:  s.Firmware().String(),
		Ready:     s.Readiness().Ready(),
	}
	if v := s.Protocol(); v != nil {
		r.Protocol = v.String()
	}
	if m, ok := s.Measurement(); ok {
		r.Measurement = hex.EncodeToString(m[:])
	}

	for _, g := range diagnostics.Gates {
		r.Checklist = append(r.Checklist, GateStatus{
			Name:   g.String(),
			Passed: s.Checklist().Passed(g),
		})
	}
	for _, e := range s.Errors().Entries() {
		r.Errors = append(r.Errors, ErrorRecord{Stage: e.Stage.String(), Message: e.Message})
	}
	for _, ev := range s.Diagnostics().Events() {
		r.Events = append(r.Events, EventRecord{Ordinal: ev.Ordinal, Kind: ev.Kind, Success: ev.Success})
	}
	for _, c := range s.Readiness().Results() {
		r.Readiness = append(r.Readiness, CheckRecord{
			Name:    c.Name,
			Outcome: c.Outcome.String(),
			Detail:  c.Detail,
		})
	}
	r.DroppedErrors = s.Errors().Dropped()
	r.DroppedEvents = s.Diagnostics().Dropped()

	if info := s.BootInformation(); info != nil {
		r.BootInfo = &BootInfoRecord{
			TotalUsableMemory:    info.TotalUsableMemory,
			HighestUsableAddress: info.HighestUsableAddress,
			CommandLine:          info.CommandLine,
			LoaderIdentity:       info.LoaderIdentity,
			Modules:              len(info.Modules),
		}
	}
	return r
}

// EncodeYAML renders the report for operators.
func (r *Report) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// DecodeYAML parses a report exported by EncodeYAML.
func DecodeYAML(raw []byte) (*Report, error) {
	var r Report
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("report: decode: %w", err)
	}
	return &r, nil
}

// CanonicalJSON renders the report as RFC 8785 canonical JSON. Field
// order, whitespace, and number formatting are normalized, so the bytes
// are stable input for Digest.
func (r *Report) CanonicalJSON() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("report: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("report: canonicalize: %w", err)
	}
	return canonical, nil
}

// Digest returns the hex SHA3-256 of the canonical JSON form.
func (r *Report) Digest() (string, error) {
	canonical, err := r.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
