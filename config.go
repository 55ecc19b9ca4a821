package petal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/petal/coalesce"
)

// Config holds the tunables of a Context. The zero value is not valid;
// start from DefaultConfig.
type Config struct {
	// Coalescing fuses chains of pointwise operations into single passes.
	Coalescing bool `yaml:"coalescing"`

	// MaxChainLength bounds the number of stages fused into one pass.
	MaxChainLength int `yaml:"max_chain_length" validate:"gte=1,lte=64"`

	// MaxConcurrentRenders bounds the renders RenderBatch runs at once.
	MaxConcurrentRenders int `yaml:"max_concurrent_renders" validate:"gte=1,lte=1024"`

	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig tunes the render target cache.
type CacheConfig struct {
	// IdleBudgetBytes is the idle pool size memory pressure trims down to.
	IdleBudgetBytes int64 `yaml:"idle_budget_bytes" validate:"gte=0"`

	// TrimAfterRender trims the idle pool down to IdleBudgetBytes after
	// every render instead of waiting for memory pressure.
	TrimAfterRender bool `yaml:"trim_after_render"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Coalescing:           true,
		MaxChainLength:       coalesce.DefaultMaxChain,
		MaxConcurrentRenders: 4,
		Cache: CacheConfig{
			IdleBudgetBytes: 64 << 20,
		},
	}
}

// ErrInvalidConfig is matched by every ConfigError.
var ErrInvalidConfig = errors.New("petal: invalid config")

// ConfigError reports a configuration field that failed validation.
type ConfigError struct {
	// Field is the dotted YAML path of the field.
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("petal: config %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

var configValidate = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field against its allowed range.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("petal: config: %w", err)
	}
	fe := verrs[0]
	// Namespace is "Config.<yaml path>".
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	return &ConfigError{Field: field, Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%v is below the minimum %s", fe.Value(), fe.Param())
	case "lte":
		return fmt.Sprintf("%v is above the maximum %s", fe.Value(), fe.Param())
	}
	return fmt.Sprintf("%v fails %q", fe.Value(), fe.ActualTag())
}

// ParseConfig decodes a YAML document over DefaultConfig and validates the
// result. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("petal: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("petal: load config: %w", err)
	}
	return ParseConfig(data)
}
