package feature

import (
	"errors"
	"fmt"
)

// Configuration errors.
var (
	ErrUnknownClass      = errors.New("unknown feature class")
	ErrKwargsNotMapping  = errors.New("kwargs must be a mapping")
	ErrNoParent          = errors.New("sub-feature class requires a parent")
	ErrInvalidKwargs     = errors.New("invalid kwargs")
	ErrConflictingBounds = errors.New("cache_count and cache_seconds are mutually exclusive")
	ErrNegativeBound     = errors.New("cache bound must not be negative")
	ErrUnknownProcessor  = errors.New("unknown value processor")
	ErrPeriodicConflict  = errors.New("periodic interval declared twice")
	ErrEmptySpec         = errors.New("feature spec is empty")
	ErrBoundMismatch     = errors.New("cache bound kind does not match what a sub-feature reads")
)

// Runtime errors.
var (
	ErrIDCollision    = errors.New("feature identifier collision")
	ErrEmptyHistory   = errors.New("no snapshots to simulate")
	ErrNotInitialized = errors.New("feature graph not initialized")
	ErrRunnerIndex    = errors.New("runner index out of range")
	ErrNotNumeric     = errors.New("value is not numeric")
	ErrWindowMissing  = errors.New("window processor not registered")
	ErrUnknownFeature = errors.New("unknown feature id")
	ErrUnknownField   = errors.New("unknown value field")
)

// ConfigError is a construction-time failure naming the offending config key.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("feature config %q: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(key string, err error) error {
	return &ConfigError{Key: key, Err: err}
}

// ComputeError is a failure inside a feature's update, tagged with the feature id.
type ComputeError struct {
	FeatureID string
	Err       error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("feature %s: %v", e.FeatureID, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }
