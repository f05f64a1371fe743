package normalize

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules configures name normalization: marketing stop phrases to strip,
// quantity units to recognize, and a brand lexicon for records whose
// source carried no usable brand hint.
type Rules struct {
	StopPhrases []string `yaml:"stop_phrases"`
	Units       []string `yaml:"units"`
	Brands      []string `yaml:"brands"`
}

// DefaultRules returns the built-in rule set. A YAML rules file extends
// these rather than replacing them.
func DefaultRules() Rules {
	return Rules{
		StopPhrases: []string{
			"free shipping",
			"flash sale",
			"best seller",
			"hot item",
			"official store",
			"authentic",
			"genuine",
			"promotion",
			"limited time",
			"new arrival",
			"clearance",
			"value pack",
			"ready to ship",
		},
		Units: []string{
			"mg", "g", "kg", "mcg", "ml", "l", "cc", "oz",
			"iu", "tab", "tabs", "tablet", "tablets",
			"cap", "caps", "capsule", "capsules",
			"pcs", "pc", "ct", "s",
		},
		Brands: nil,
	}
}

// LoadRules reads a rules file and merges it over the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "normalize: read rules %s", path)
	}

	var loaded Rules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return rules, eris.Wrap(err, "normalize: parse rules")
	}

	rules.StopPhrases = append(rules.StopPhrases, loaded.StopPhrases...)
	rules.Units = append(rules.Units, loaded.Units...)
	rules.Brands = append(rules.Brands, loaded.Brands...)
	return rules, nil
}
