package defaults

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Override adjusts a built-in handler: sites move domains more often than
// they change markup.
type Override struct {
	BaseURL string `yaml:"base_url"`
	Enabled *bool  `yaml:"enabled"`
}

type overridesFile struct {
	Sources map[string]Override `yaml:"sources"`
}

func (o Override) isEnabled() bool {
	if o.Enabled == nil {
		return true
	}
	return *o.Enabled
}

// LoadOverrides reads the sources override file. A missing file is not an error.
func LoadOverrides(path string) (map[string]Override, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}

	content, err := os.ReadFile(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources config: %w", err)
	}

	var file overridesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse sources config: %w", err)
	}

	overrides := make(map[string]Override, len(file.Sources))
	unknown := make([]string, 0)
	for name, override := range file.Sources {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := constructors[key]; !ok {
			unknown = append(unknown, name)
			continue
		}
		override.BaseURL = strings.TrimRight(strings.TrimSpace(override.BaseURL), "/")
		overrides[key] = override
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return overrides, fmt.Errorf("sources config names unknown sources: %s", strings.Join(unknown, ", "))
	}

	return overrides, nil
}
