// Package config loads counter threshold configurations from a counters.yaml
// file, with UIPROBE_* environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fllarpy/uiprobe/counters"
)

// FileName is the base name of the threshold file looked up by Load.
const FileName = "counters"

// EnvPrefix prefixes environment overrides, e.g.
// UIPROBE_RUNNING_REQUEST_DB_READER_READ_THRESHOLD.
const EnvPrefix = "UIPROBE"

var scopeNames = []string{"navigation", "page_load", "session", "request", "phase"}

var thresholdNames = []string{
	"disable",
	"db_command_execution_threshold",
	"db_command_text_execution_threshold",
	"db_reader_read_threshold",
}

// Threshold is the file form of counters.ThresholdConfiguration. Unset fields
// keep the value they override.
type Threshold struct {
	Disable                         *bool `mapstructure:"disable" yaml:"disable,omitempty"`
	DbCommandExecutionThreshold     *int  `mapstructure:"db_command_execution_threshold" yaml:"db_command_execution_threshold,omitempty"`
	DbCommandTextExecutionThreshold *int  `mapstructure:"db_command_text_execution_threshold" yaml:"db_command_text_execution_threshold,omitempty"`
	DbReaderReadThreshold           *int  `mapstructure:"db_reader_read_threshold" yaml:"db_reader_read_threshold,omitempty"`
}

// Phase is the file form of counters.PhaseCounterConfiguration.
type Phase struct {
	Navigation *Threshold `mapstructure:"navigation" yaml:"navigation,omitempty"`
	PageLoad   *Threshold `mapstructure:"page_load" yaml:"page_load,omitempty"`
	Session    *Threshold `mapstructure:"session" yaml:"session,omitempty"`
	Request    *Threshold `mapstructure:"request" yaml:"request,omitempty"`
	Phase      *Threshold `mapstructure:"phase" yaml:"phase,omitempty"`
	// Exclude lists regular expressions of command texts that are never
	// checked.
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
}

// Override binds a phase configuration to a URL.
type Override struct {
	URL        string `mapstructure:"url" yaml:"url"`
	ExactMatch bool   `mapstructure:"exact_match" yaml:"exact_match,omitempty"`
	Phase      `mapstructure:",squash" yaml:",inline"`
}

// Running is the file form of the running phase.
type Running struct {
	Phase     `mapstructure:",squash" yaml:",inline"`
	Overrides []Override `mapstructure:"overrides" yaml:"overrides,omitempty"`
}

// File is the layout of counters.yaml.
type File struct {
	Setup   Phase   `mapstructure:"setup" yaml:"setup"`
	Running Running `mapstructure:"running" yaml:"running"`
}

// Load reads counters.yaml from dir. A missing file yields the defaults.
func Load(dir string) (*counters.CounterConfigurations, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	return load(v)
}

// LoadFile reads the threshold file at path, which must exist.
func LoadFile(path string) (*counters.CounterConfigurations, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*counters.CounterConfigurations, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, phase := range []string{"setup", "running"} {
		for _, scope := range scopeNames {
			for _, name := range thresholdNames {
				if err := v.BindEnv(phase + "." + scope + "." + name); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read threshold file: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode threshold file: %w", err)
	}
	return f.Configurations()
}

// Configurations applies f on top of counters.DefaultConfigurations.
func (f *File) Configurations() (*counters.CounterConfigurations, error) {
	cfg := counters.DefaultConfigurations()

	if err := f.Setup.apply(&cfg.Setup); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if err := f.Running.Phase.apply(&cfg.Running.PhaseCounterConfiguration); err != nil {
		return nil, fmt.Errorf("running: %w", err)
	}

	for i, o := range f.Running.Overrides {
		if o.URL == "" {
			return nil, fmt.Errorf("override %d: url is required", i)
		}
		key, err := counters.NewRelativeURLConfigurationKey(o.URL, o.ExactMatch)
		if err != nil {
			return nil, fmt.Errorf("override %d: %w", i, err)
		}
		phase := cfg.Running.PhaseCounterConfiguration
		if err := o.Phase.apply(&phase); err != nil {
			return nil, fmt.Errorf("override %s: %w", o.URL, err)
		}
		cfg.Running.Add(key, phase)
	}
	return cfg, nil
}

func (p *Phase) apply(cfg *counters.PhaseCounterConfiguration) error {
	p.Navigation.apply(&cfg.NavigationThreshold)
	p.PageLoad.apply(&cfg.PageLoadThreshold)
	p.Session.apply(&cfg.SessionThreshold)
	p.Request.apply(&cfg.RequestThreshold)
	p.Phase.apply(&cfg.PhaseThreshold)

	if len(p.Exclude) > 0 {
		filter, err := counters.CompileExcludeFilter(p.Exclude...)
		if err != nil {
			return err
		}
		cfg.ExcludeFilter = filter
	}
	return nil
}

func (t *Threshold) apply(cfg *counters.ThresholdConfiguration) {
	if t == nil {
		return
	}
	if t.Disable != nil {
		cfg.Disable = *t.Disable
	}
	if t.DbCommandExecutionThreshold != nil {
		cfg.DbCommandExecutionThreshold = *t.DbCommandExecutionThreshold
	}
	if t.DbCommandTextExecutionThreshold != nil {
		cfg.DbCommandTextExecutionThreshold = *t.DbCommandTextExecutionThreshold
	}
	if t.DbReaderReadThreshold != nil {
		cfg.DbReaderReadThreshold = *t.DbReaderReadThreshold
	}
}

// FromConfigurations converts cfg into its file form. Exclude filters are
// code and cannot be written back.
func FromConfigurations(cfg *counters.CounterConfigurations) File {
	f := File{
		Setup:   phaseFile(&cfg.Setup),
		Running: Running{Phase: phaseFile(&cfg.Running.PhaseCounterConfiguration)},
	}
	for _, o := range cfg.Running.Overrides {
		override := Override{Phase: phaseFile(&o.Configuration)}
		if key, ok := o.Key.(*counters.RelativeURLConfigurationKey); ok {
			override.URL = key.String()
			override.ExactMatch = key.ExactMatch
		}
		f.Running.Overrides = append(f.Running.Overrides, override)
	}
	return f
}

// Marshal renders cfg as counters.yaml content.
func Marshal(cfg *counters.CounterConfigurations) ([]byte, error) {
	return yaml.Marshal(FromConfigurations(cfg))
}

func phaseFile(cfg *counters.PhaseCounterConfiguration) Phase {
	return Phase{
		Navigation: thresholdFile(cfg.NavigationThreshold),
		PageLoad:   thresholdFile(cfg.PageLoadThreshold),
		Session:    thresholdFile(cfg.SessionThreshold),
		Request:    thresholdFile(cfg.RequestThreshold),
		Phase:      thresholdFile(cfg.PhaseThreshold),
	}
}

func thresholdFile(cfg counters.ThresholdConfiguration) *Threshold {
	return &Threshold{
		Disable:                         &cfg.Disable,
		DbCommandExecutionThreshold:     &cfg.DbCommandExecutionThreshold,
		DbCommandTextExecutionThreshold: &cfg.DbCommandTextExecutionThreshold,
		DbReaderReadThreshold:           &cfg.DbReaderReadThreshold,
	}
}
