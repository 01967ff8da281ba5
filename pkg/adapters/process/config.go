package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/redliner/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Config describes an external command that runs one stage.
type Config struct {
	Stage       string            `yaml:"stage" json:"stage"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Dir         string            `yaml:"dir" json:"dir"`
	Description string            `yaml:"description" json:"description"`
}

// ConfigFile is the structure of executors.yaml.
type ConfigFile struct {
	Executors []Config `yaml:"executors" json:"executors"`
}

// LoadConfig reads an executors file (YAML or JSON) keyed by stage.
// A missing file means no stage is overridden.
func LoadConfig(path string) (map[domain.Stage]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[domain.Stage]Config{}, nil
		}
		return nil, fmt.Errorf("failed to read executors config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	out := make(map[domain.Stage]Config, len(cfg.Executors))
	for i, c := range cfg.Executors {
		stage, err := domain.ParseStage(c.Stage)
		if err != nil {
			return nil, fmt.Errorf("executor %d: %w", i, err)
		}
		if c.Command == "" {
			return nil, fmt.Errorf("executor for %s has no command", stage)
		}
		if _, dup := out[stage]; dup {
			return nil, fmt.Errorf("stage %s is configured twice", stage)
		}
		out[stage] = c
	}
	return out, nil
}
