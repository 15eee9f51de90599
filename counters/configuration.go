package counters

import (
	"fmt"
	"regexp"
)

// Phase is the part of a test run the collector is currently counting.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ThresholdConfiguration holds the ceilings of one scope type. A counter
// breaches a ceiling when it is strictly greater than it.
type ThresholdConfiguration struct {
	// Disable turns off every check of this scope type.
	Disable                         bool `yaml:"disable" mapstructure:"disable"`
	DbCommandExecutionThreshold     int  `yaml:"db_command_execution_threshold" mapstructure:"db_command_execution_threshold"`
	DbCommandTextExecutionThreshold int  `yaml:"db_command_text_execution_threshold" mapstructure:"db_command_text_execution_threshold"`
	DbReaderReadThreshold           int  `yaml:"db_reader_read_threshold" mapstructure:"db_reader_read_threshold"`
}

// PhaseCounterConfiguration groups the thresholds of every scope type used
// during one phase.
type PhaseCounterConfiguration struct {
	NavigationThreshold ThresholdConfiguration
	PageLoadThreshold   ThresholdConfiguration
	SessionThreshold    ThresholdConfiguration
	RequestThreshold    ThresholdConfiguration
	// PhaseThreshold applies to the collector's own aggregate.
	PhaseThreshold ThresholdConfiguration
	// ExcludeFilter reports keys that are never checked against a threshold.
	ExcludeFilter func(Key) bool
}

func (c *PhaseCounterConfiguration) excluded(key Key) bool {
	return c.ExcludeFilter != nil && c.ExcludeFilter(key)
}

// ConfigurationOverride binds a phase configuration to the probes whose
// configuration key equals Key.
type ConfigurationOverride struct {
	Key           ConfigurationKey
	Configuration PhaseCounterConfiguration
}

// RunningPhaseCounterConfiguration is the running-phase configuration with
// optional per-key overrides.
type RunningPhaseCounterConfiguration struct {
	PhaseCounterConfiguration
	Overrides []ConfigurationOverride
}

// Add appends an override. Earlier overrides take precedence.
func (c *RunningPhaseCounterConfiguration) Add(key ConfigurationKey, cfg PhaseCounterConfiguration) {
	c.Overrides = append(c.Overrides, ConfigurationOverride{Key: key, Configuration: cfg})
}

// Lookup returns the first override whose key equals key.
func (c *RunningPhaseCounterConfiguration) Lookup(key ConfigurationKey) (*PhaseCounterConfiguration, bool) {
	if key == nil {
		return nil, false
	}
	for i := range c.Overrides {
		if c.Overrides[i].Key != nil && c.Overrides[i].Key.Equal(key) {
			return &c.Overrides[i].Configuration, true
		}
	}
	return nil, false
}

// CounterConfigurations holds the setup and running phase configurations.
type CounterConfigurations struct {
	Setup   PhaseCounterConfiguration
	Running RunningPhaseCounterConfiguration
}

// DefaultConfigurations returns the limits used when a test does not set its
// own. The setup phase is not checked and the aggregate of a whole phase is
// never limited by default.
func DefaultConfigurations() *CounterConfigurations {
	scope := ThresholdConfiguration{
		DbCommandExecutionThreshold:     11,
		DbCommandTextExecutionThreshold: 22,
		DbReaderReadThreshold:           11,
	}
	disabled := ThresholdConfiguration{Disable: true}

	return &CounterConfigurations{
		Setup: PhaseCounterConfiguration{
			NavigationThreshold: disabled,
			PageLoadThreshold:   disabled,
			SessionThreshold:    disabled,
			RequestThreshold:    disabled,
			PhaseThreshold:      disabled,
		},
		Running: RunningPhaseCounterConfiguration{
			PhaseCounterConfiguration: PhaseCounterConfiguration{
				NavigationThreshold: scope,
				PageLoadThreshold:   scope,
				SessionThreshold:    scope,
				RequestThreshold:    scope,
				PhaseThreshold:      disabled,
			},
		},
	}
}

// ExcludeCommandText returns a filter matching keys whose command text matches
// any of the regular expressions. It panics on an invalid pattern.
func ExcludeCommandText(patterns ...string) func(Key) bool {
	filter, err := CompileExcludeFilter(patterns...)
	if err != nil {
		panic(err)
	}
	return filter
}

// CompileExcludeFilter is like ExcludeCommandText but reports invalid patterns
// as an error.
func CompileExcludeFilter(patterns ...string) (func(Key) bool, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return func(key Key) bool {
		ck, ok := key.(interface{ CommandText() string })
		if !ok {
			return false
		}
		for _, re := range res {
			if re.MatchString(ck.CommandText()) {
				return true
			}
		}
		return false
	}, nil
}
