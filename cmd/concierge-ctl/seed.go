package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfman30/commerce-concierge/internal/tenant"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

// seedFile is the operator's tenant document. The kill switch is not part
// of it; use `tenant kill` and `tenant revive`.
type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	tenant.Settings `yaml:",inline"`
	Fixture         *tools.Fixture `yaml:"fixture,omitempty"`
}

func loadSeedFile(path string) (*seedFile, error) {
	if path == "" {
		return nil, fmt.Errorf("a seed file is required (--file or OPERATOR_CLI_CONFIG)")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Tenants))
	for i := range f.Tenants {
		s := &f.Tenants[i].Settings
		s.Normalize()
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("tenant #%d: %w", i+1, err)
		}
		if seen[s.TenantID] {
			return nil, fmt.Errorf("tenant %s listed twice", s.TenantID)
		}
		seen[s.TenantID] = true
	}
	return &f, nil
}
