package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"scbe/misc"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	StorageConfig struct {
		// ProjectsDir is where project files, content databases and media live.
		// Empty means per-user configuration directory.
		ProjectsDir  string `yaml:"projects_dir"`
		NameTemplate string `yaml:"name_template"`
		Backup       bool   `yaml:"backup"`
	}

	AutosaveConfig struct {
		Enable      bool          `yaml:"enable"`
		Interval    time.Duration `yaml:"interval" validate:"min=100ms"`
		MinInterval time.Duration `yaml:"min_interval" validate:"min=0s"`
		Debounce    time.Duration `yaml:"debounce" validate:"min=0s,max=5s"`
	}

	EngineConfig struct {
		MaxRedundantLoads int  `yaml:"max_redundant_loads" validate:"min=1"`
		SweepConcurrency  int  `yaml:"sweep_concurrency" validate:"min=1,max=64"`
		SanitizeHTML      bool `yaml:"sanitize_html"`
	}

	Config struct {
		Version  int            `yaml:"version" validate:"eq=1"`
		Storage  StorageConfig  `yaml:"storage"`
		Autosave AutosaveConfig `yaml:"autosave"`
		Engine   EngineConfig   `yaml:"engine"`
		Logging  LoggingConfig  `yaml:"logging"`
	}
)

const (
	// NOTE: must match yaml field name above
	NameTemplateFieldName TemplateFieldName = "name_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(NameTemplateFieldName)),
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration tamplate to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}

// ResolveProjectsDir returns configured projects directory or default per-user
// location when nothing was configured.
func (conf *StorageConfig) ResolveProjectsDir() (string, error) {
	if len(conf.ProjectsDir) > 0 {
		return conf.ProjectsDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to locate user configuration directory: %w", err)
	}
	return filepath.Join(dir, misc.GetAppName(), "projects"), nil
}

// UntitledName is used for projects without usable name.
const UntitledName = "Untitled"
