package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

// Bounds of the endpoint addressing scheme. A profile number selects a block
// of 64 contiguous management ports, one per process index.
const (
	MinProfileNumber = 1
	MaxProfileNumber = 64
	MaxProcesses     = 64
)

type profilesFile struct {
	Profiles []profileEntry `yaml:"profiles"`
}

type profileEntry struct {
	Name        string   `yaml:"name"`
	Number      int      `yaml:"number"`
	Processes   int      `yaml:"processes"`
	ACL         bool     `yaml:"acl"`
	Permissions []string `yaml:"permissions"`
}

// LoadProfiles reads and validates the fleet profile definitions. The decode
// is strict: unknown fields are an error, so typos don't silently disable a
// profile's ACL.
func LoadProfiles(path string) ([]domain.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var file profilesFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("profiles file %s defines no profiles", path)
	}

	names := make(map[string]struct{}, len(file.Profiles))
	numbers := make(map[int]struct{}, len(file.Profiles))
	out := make([]domain.Profile, 0, len(file.Profiles))
	for i, e := range file.Profiles {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("profile #%d has no name", i+1)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("duplicate profile name %q", name)
		}
		if e.Number < MinProfileNumber || e.Number > MaxProfileNumber {
			return nil, fmt.Errorf("profile %q: number %d out of range [%d,%d]", name, e.Number, MinProfileNumber, MaxProfileNumber)
		}
		if _, dup := numbers[e.Number]; dup {
			return nil, fmt.Errorf("duplicate profile number %d", e.Number)
		}
		if e.Processes < 0 || e.Processes > MaxProcesses {
			return nil, fmt.Errorf("profile %q: processes %d out of range [0,%d]", name, e.Processes, MaxProcesses)
		}
		if e.ACL && len(e.Permissions) == 0 {
			return nil, fmt.Errorf("profile %q: acl enabled but no permissions required", name)
		}
		names[name] = struct{}{}
		numbers[e.Number] = struct{}{}
		out = append(out, domain.Profile{
			Name:        name,
			Number:      e.Number,
			Processes:   e.Processes,
			ACL:         e.ACL,
			Permissions: e.Permissions,
		})
	}
	return out, nil
}
