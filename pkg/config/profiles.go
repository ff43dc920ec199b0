package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// GroupProfileOverride is one entry of a YAML-defined override of the
// risk calculator's default group profile (pkg/risk), keyed by domain
// and group name.
type GroupProfileOverride struct {
	Domain               string  `yaml:"domain"`
	GroupName            string  `yaml:"group_name"`
	Level                string  `yaml:"level"`
	BaseWeight           float64 `yaml:"base_weight"`
	MaxAcceptableMembers int     `yaml:"max_acceptable_members"`
	EscalationMultiplier float64 `yaml:"escalation_multiplier"`
}

// GroupProfileFile is the top-level shape of a group-profiles.yaml
// override file: a flat list of per-(domain, group) overrides.
type GroupProfileFile struct {
	Overrides []GroupProfileOverride `yaml:"overrides"`
}

// LoadGroupProfileOverrides reads a group-profile override file from
// path and converts it into model.GroupRiskConfig rows keyed by
// "domain/group_name". A missing file is not an error: it means no
// overrides are configured and every group falls back to its built-in
// default profile.
func LoadGroupProfileOverrides(path string) (map[string]model.GroupRiskConfig, error) {
	out := make(map[string]model.GroupRiskConfig)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group profile overrides %q: %w", path, err)
	}

	var file GroupProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse group profile overrides %q: %w", path, err)
	}

	for _, o := range file.Overrides {
		key := overrideKey(o.Domain, o.GroupName)
		out[key] = model.GroupRiskConfig{
			Domain:               o.Domain,
			GroupName:            o.GroupName,
			Level:                model.RiskLevel(strings.ToUpper(o.Level)),
			BaseWeight:           o.BaseWeight,
			MaxAcceptableMembers: o.MaxAcceptableMembers,
			EscalationMultiplier: o.EscalationMultiplier,
		}
	}

	return out, nil
}

func overrideKey(domain, group string) string {
	return filepath.ToSlash(domain) + "/" + group
}
