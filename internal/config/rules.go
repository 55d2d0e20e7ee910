package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/shopglide/cartcore/internal/model"
)

// LoadRules reads a rule-set YAML file and compiles its patterns. A rule
// whose pattern fails to compile keeps substring-match behavior; the first
// compile error is returned alongside the usable set.
func LoadRules(path string) (*model.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and compiles a rule set from YAML bytes.
func ParseRules(data []byte) (*model.RuleSet, error) {
	var rs model.RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrap(err, "config: parse rules")
	}
	if err := rs.Compile(); err != nil {
		return &rs, err
	}
	return &rs, nil
}
