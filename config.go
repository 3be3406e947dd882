package sim

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultHeapBase        = 0xc0000000
	DefaultMaxLength       = 4096
	DefaultMaxVariableSize = 128
	DefaultAddressLimit    = 8
)

// Config represents the settings shared by every state of a session.
type Config struct {
	// Analysis mode. Determines the default options of new states.
	Mode Mode `yaml:"mode"`

	// Additional options set on every new state.
	Options []Option `yaml:"options"`

	// First address returned by the allocator.
	HeapBase uint64 `yaml:"heap-base"`

	// Upper bound used when a read length is symbolic.
	MaxLength uint64 `yaml:"max-length"`

	// Upper bound used when an allocation size is symbolic.
	MaxVariableSize uint64 `yaml:"max-variable-size"`

	// Maximum number of concrete addresses a symbolic address resolves to.
	AddressLimit int `yaml:"address-limit"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeSymbolic,
		HeapBase:        DefaultHeapBase,
		MaxLength:       DefaultMaxLength,
		MaxVariableSize: DefaultMaxVariableSize,
		AddressLimit:    DefaultAddressLimit,
	}
}

// ParseConfig decodes YAML data over the default configuration.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads and decodes the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	config, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "%s", path)
	}
	return config, nil
}

// Validate returns an error if the configuration is unusable.
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	for _, opt := range c.Options {
		switch opt {
		case OptionTrackConstraints, OptionZeroFillUnconstrained, OptionSingleAddressConcretization:
		default:
			return errors.Errorf("sim: unknown option: %q", opt)
		}
	}
	if c.AddressLimit < 1 {
		return errors.Errorf("sim: address limit must be positive: %d", c.AddressLimit)
	}
	return nil
}
