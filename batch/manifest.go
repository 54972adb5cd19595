package batch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/packet-tracer-i18n/tskit/tsfile"
)

// Manifest persists the custom_id → sequence-index mapping alongside
// the requests file, together with the selection options that produced
// it. Loading it at apply time removes the dependency on recomputing
// the selection with byte-identical options.
type Manifest struct {
	StartIndex      int             `json:"start_index"`
	Deduplicate     bool            `json:"deduplicate"`
	IncludeFinished bool            `json:"include_finished"`
	Entries         []ManifestEntry `json:"entries"`
}

// ManifestEntry maps one custom_id to the sequence indices it represents.
type ManifestEntry struct {
	CustomID string `json:"custom_id"`
	Indices  []int  `json:"indices"`
}

// ManifestPath returns the default manifest path for a requests file.
func ManifestPath(requestsPath string) string {
	return requestsPath + ".manifest.json"
}

// NewManifest builds a manifest from a selection plan.
func NewManifest(plan []*Selection, opts Options) *Manifest {
	m := &Manifest{
		StartIndex:      opts.StartIndex,
		Deduplicate:     opts.Deduplicate,
		IncludeFinished: opts.IncludeFinished,
	}
	for _, sel := range plan {
		m.Entries = append(m.Entries, ManifestEntry{
			CustomID: sel.CustomID,
			Indices:  append([]int(nil), sel.Indices...),
		})
	}
	return m
}

// WriteFile writes the manifest as formatted JSON.
func (m *Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// Plan reconstructs a selection plan over the given unit sequence.
// Every stored index must still resolve to a unit; a template that
// changed shape since export fails here instead of mis-assigning
// translations.
func (m *Manifest) Plan(units []*tsfile.Unit) ([]*Selection, error) {
	var plan []*Selection
	for _, e := range m.Entries {
		if len(e.Indices) == 0 {
			return nil, fmt.Errorf("manifest entry %s has no indices", e.CustomID)
		}
		for _, idx := range e.Indices {
			if idx < 0 || idx >= len(units) {
				return nil, fmt.Errorf("manifest entry %s: index %d out of range (template has %d units)", e.CustomID, idx, len(units))
			}
		}
		plan = append(plan, &Selection{
			CustomID: e.CustomID,
			Unit:     units[e.Indices[0]],
			Indices:  append([]int(nil), e.Indices...),
		})
	}
	return plan, nil
}
