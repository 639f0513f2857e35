package modules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/projecteru2/modwire/types"
)

// descriptor is the on-disk shape a CLI install/update command reads to
// build a revision — there being no real component loader in a CLI-only
// deployment, this plays the role the teacher's manifest/bundle.json would.
type descriptor struct {
	SymbolicName   string              `json:"symbolic_name"`
	Version        string              `json:"version"`
	Fragment       bool                `json:"fragment,omitempty"`
	LazyActivation bool                `json:"lazy_activation,omitempty"`
	Capabilities   []types.Capability  `json:"capabilities,omitempty"`
	Requirements   []types.Requirement `json:"requirements,omitempty"`
}

func loadDescriptor(path string) (*descriptor, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path from CLI argument
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	var d descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	if d.SymbolicName == "" {
		return nil, fmt.Errorf("descriptor %s: symbolic_name is required", path)
	}
	return &d, nil
}

// descriptorBuilder adapts a descriptor into a container.NamedRevisionBuilder
// so Install can take the name lock up front.
type descriptorBuilder struct {
	d *descriptor
}

func (b descriptorBuilder) Name() types.SymbolicName { return types.SymbolicName(b.d.SymbolicName) }

func (b descriptorBuilder) Build() (*types.RevisionTemplate, error) {
	version, err := types.ParseVersion(b.d.Version)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", b.d.Version, err)
	}
	return &types.RevisionTemplate{
		SymbolicName:   types.SymbolicName(b.d.SymbolicName),
		Version:        version,
		Capabilities:   b.d.Capabilities,
		Requirements:   b.d.Requirements,
		Fragment:       b.d.Fragment,
		LazyActivation: b.d.LazyActivation,
	}, nil
}
