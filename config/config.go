// Package config holds the numerical parameters of the calibration and
// futures engines and loads them from YAML files and MOCALIB_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig is returned by Validate and Load for out-of-range values.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. MOCALIB_NB_POINT=161.
const EnvPrefix = "MOCALIB"

// Config holds solver tolerances, grid sizes and runtime settings.
type Config struct {
	// PVToleranceMultiplier scales the notional to compute the calibration PV tolerance.
	// PV tolerance = PVToleranceMultiplier * max(1.0, abs(notional))
	PVToleranceMultiplier float64 `mapstructure:"pv_tolerance_multiplier" yaml:"pv_tolerance_multiplier"`

	// StepTolerance stops an over-determined period once the relative
	// Gauss-Newton step falls below it.
	StepTolerance float64 `mapstructure:"step_tolerance" yaml:"step_tolerance"`

	// MaxCalibrationIterations bounds the Gauss-Newton iterations per period.
	MaxCalibrationIterations int `mapstructure:"max_calibration_iterations" yaml:"max_calibration_iterations"`

	// RootTolerance is the Ridder tolerance for CTD switch points.
	RootTolerance float64 `mapstructure:"root_tolerance" yaml:"root_tolerance"`

	// NbPoint is the number of normal abscissae of the CTD grid.
	NbPoint int `mapstructure:"nb_point" yaml:"nb_point"`

	// GridCenter bounds the uniform centre of the CTD grid.
	GridCenter float64 `mapstructure:"grid_center" yaml:"grid_center"`

	// GridHalfWidth bounds the geometric wings of the CTD grid.
	GridHalfWidth float64 `mapstructure:"grid_half_width" yaml:"grid_half_width"`

	// Workers is the concurrency limit of the portfolio pool.
	Workers int `mapstructure:"workers" yaml:"workers"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfig provides production-ready default values.
var DefaultConfig = Config{
	PVToleranceMultiplier:    1e-10,
	StepTolerance:            1e-10,
	MaxCalibrationIterations: 50,
	RootTolerance:            1e-8,
	NbPoint:                  81,
	GridCenter:               1.5,
	GridHalfWidth:            10,
	Workers:                  4,
	LogLevel:                 "info",
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.PVToleranceMultiplier <= 0:
		return fmt.Errorf("pv_tolerance_multiplier must be positive, got %g: %w", c.PVToleranceMultiplier, ErrInvalidConfig)
	case c.StepTolerance <= 0:
		return fmt.Errorf("step_tolerance must be positive, got %g: %w", c.StepTolerance, ErrInvalidConfig)
	case c.MaxCalibrationIterations < 1:
		return fmt.Errorf("max_calibration_iterations must be >= 1, got %d: %w", c.MaxCalibrationIterations, ErrInvalidConfig)
	case c.RootTolerance <= 0:
		return fmt.Errorf("root_tolerance must be positive, got %g: %w", c.RootTolerance, ErrInvalidConfig)
	case c.NbPoint < 8:
		return fmt.Errorf("nb_point must be >= 8, got %d: %w", c.NbPoint, ErrInvalidConfig)
	case c.GridCenter <= 0 || c.GridHalfWidth <= c.GridCenter:
		return fmt.Errorf("need 0 < grid_center (%g) < grid_half_width (%g): %w", c.GridCenter, c.GridHalfWidth, ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("workers must be >= 1, got %d: %w", c.Workers, ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level %q: %v: %w", c.LogLevel, err, ErrInvalidConfig)
	}
	return nil
}

// Load reads DefaultConfig overlaid with the YAML file at path (optional when
// empty) and MOCALIB_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("Load: reading %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	return c, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("pv_tolerance_multiplier", c.PVToleranceMultiplier)
	v.SetDefault("step_tolerance", c.StepTolerance)
	v.SetDefault("max_calibration_iterations", c.MaxCalibrationIterations)
	v.SetDefault("root_tolerance", c.RootTolerance)
	v.SetDefault("nb_point", c.NbPoint)
	v.SetDefault("grid_center", c.GridCenter)
	v.SetDefault("grid_half_width", c.GridHalfWidth)
	v.SetDefault("workers", c.Workers)
	v.SetDefault("log_level", c.LogLevel)
}

// NewLogger builds a production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("NewLogger: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("NewLogger: %w", err)
	}
	return logger, nil
}
