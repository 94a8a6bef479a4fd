package feature

import (
	"bytes"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config maps a feature name to its declaration. It is shared across runners and markets
// and is never mutated by the graph builder.
type Config map[string]*Spec

// Spec declares one feature node.
type Spec struct {
	Class           string          `yaml:"class" json:"class"`
	Kwargs          any             `yaml:"kwargs,omitempty" json:"kwargs,omitempty"`
	CacheCount      int             `yaml:"cache_count,omitempty" json:"cache_count,omitempty"`
	CacheSeconds    float64         `yaml:"cache_seconds,omitempty" json:"cache_seconds,omitempty"`
	PeriodicSeconds float64         `yaml:"periodic_seconds,omitempty" json:"periodic_seconds,omitempty"`
	PeriodicSnap    bool            `yaml:"periodic_snap,omitempty" json:"periodic_snap,omitempty"`
	PreProcessors   []ProcessorSpec `yaml:"pre_processors,omitempty" json:"pre_processors,omitempty"`
	PostProcessors  []ProcessorSpec `yaml:"post_processors,omitempty" json:"post_processors,omitempty"`
	SubFeatures     Config          `yaml:"sub_features,omitempty" json:"sub_features,omitempty"`
}

// ProcessorSpec declares one value processor.
type ProcessorSpec struct {
	Name   string         `yaml:"name" json:"name"`
	Kwargs map[string]any `yaml:"kwargs,omitempty" json:"kwargs,omitempty"`
}

// ParseConfig decodes a YAML feature configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse feature config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML feature configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for name, s := range c {
		out[name] = s.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Kwargs = cloneValue(s.Kwargs)
	cp.PreProcessors = cloneProcessors(s.PreProcessors)
	cp.PostProcessors = cloneProcessors(s.PostProcessors)
	cp.SubFeatures = s.SubFeatures.Clone()
	return &cp
}

func cloneProcessors(ps []ProcessorSpec) []ProcessorSpec {
	if ps == nil {
		return nil
	}
	out := make([]ProcessorSpec, len(ps))
	for i, p := range ps {
		out[i] = ProcessorSpec{Name: p.Name}
		if p.Kwargs != nil {
			out[i].Kwargs = cloneValue(p.Kwargs).(map[string]any)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	default:
		return v
	}
}

var validate = validator.New()

// decodeKwargs fills out from raw kwargs: struct defaults first, then the supplied values,
// then validation. Unknown keys are rejected.
func decodeKwargs(raw map[string]any, out any) error {
	if err := defaults.Set(out); err != nil {
		return err
	}
	if len(raw) > 0 {
		b, err := yaml.Marshal(raw)
		if err != nil {
			return err
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return err
		}
	}
	return validate.Struct(out)
}
