// Package config provides configuration structures and loading logic for the
// governor service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/polisai/sentinel/internal/governance"
	"github.com/polisai/sentinel/pkg/domain"
)

// Config holds the global configuration for the governor service.
type Config struct {
	Governor  GovernorConfig  `yaml:"governor"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// GovernorConfig is the threshold table for the governor.
type GovernorConfig struct {
	DOF                      int           `yaml:"dof" validate:"min=1,max=64"`
	ForgettingFactor         float64       `yaml:"forgetting_factor" validate:"gt=0,lt=1"`
	InitialTheta             float64       `yaml:"initial_theta" validate:"gt=0"`
	InitialCovariance        float64       `yaml:"initial_covariance" validate:"gte=0"`
	ThetaMin                 float64       `yaml:"theta_min" validate:"gt=0"`
	ThetaMax                 float64       `yaml:"theta_max" validate:"gtfield=ThetaMin"`
	ExcitationEpsilon        float64       `yaml:"excitation_epsilon" validate:"gt=0"`
	NominalMass              float64       `yaml:"nominal_mass" validate:"gt=0"`
	NominalFriction          float64       `yaml:"nominal_friction" validate:"gte=0"`
	StabilityEnergyThreshold float64       `yaml:"stability_energy_threshold" validate:"gt=0"`
	RedundancyThreshold      float64       `yaml:"redundancy_threshold" validate:"gt=0"`
	RedundancySmoothing      float64       `yaml:"redundancy_smoothing" validate:"gt=0,lte=1"`
	WCET                     time.Duration `yaml:"wcet" validate:"gt=0"`
	CovarianceDegradedTrace  float64       `yaml:"covariance_degraded_trace" validate:"gt=0"`
	CovarianceFallbackTrace  float64       `yaml:"covariance_fallback_trace" validate:"gtfield=CovarianceDegradedTrace"`
	ConfidenceCap            float64       `yaml:"confidence_cap" validate:"gt=0"`
	DriftGain                float64       `yaml:"drift_gain" validate:"gte=0"`
	DriftLowThreshold        float64       `yaml:"drift_low_threshold" validate:"gte=0"`
	DriftHighThreshold       float64       `yaml:"drift_high_threshold" validate:"gtfield=DriftLowThreshold"`
	IntegrityTag             string        `yaml:"integrity_tag" validate:"required"`
}

// RuntimeConfig controls the periodic control loop.
type RuntimeConfig struct {
	TickInterval       time.Duration `yaml:"tick_interval" validate:"gt=0"`
	HistorySize        int           `yaml:"history_size" validate:"min=1"`
	FailureHistory     int           `yaml:"failure_history" validate:"min=1"`
	FailureDedupWindow time.Duration `yaml:"failure_dedup_window" validate:"gte=0"`
	// TorqueLimit is the actuator envelope on raw command magnitude; 0 disables it.
	TorqueLimit float64 `yaml:"torque_limit" validate:"gte=0"`
}

// AuditConfig controls the forensic ledger.
type AuditConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path" validate:"required_if=Enabled true InMemory false"`
	InMemory     bool          `yaml:"in_memory"`
	SyncWrites   bool          `yaml:"sync_writes"`
	QueueSize    int           `yaml:"queue_size" validate:"min=1"`
	DrainTimeout time.Duration `yaml:"drain_timeout" validate:"gt=0"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name" validate:"required"`
	// SampleRatio is the fraction of root spans exported; 0 keeps all.
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// ServerConfig holds configuration for the admin HTTP server.
type ServerConfig struct {
	Address        string     `yaml:"address" validate:"required"`
	ResetRateLimit float64    `yaml:"reset_rate_limit" validate:"gt=0"`
	ResetBurst     int        `yaml:"reset_burst" validate:"min=1"`
	TLS            *TLSConfig `yaml:"tls,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// PolicyConfig configures the reset authorization policy.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Modules are paths to Rego files. Empty selects the built-in module.
	Modules    []string `yaml:"modules,omitempty"`
	Entrypoint string   `yaml:"entrypoint"`
	Posture    string   `yaml:"posture" validate:"omitempty,oneof=fail-closed fail-open"`
}

// DefaultDOF is the channel count used when neither the file nor the
// environment sets one.
const DefaultDOF = 3

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return DefaultFor(DefaultDOF)
}

// DefaultFor returns the default configuration with the governor table sized
// for dof channels.
func DefaultFor(dof int) *Config {
	gov := governance.DefaultConfig(dof)
	return &Config{
		Governor: FromGovernance(gov),
		Runtime: RuntimeConfig{
			TickInterval:       10 * time.Millisecond,
			HistorySize:        10,
			FailureHistory:     100,
			FailureDedupWindow: 5 * time.Second,
			TorqueLimit:        80,
		},
		Audit: AuditConfig{
			Enabled:      true,
			Path:         "data/audit",
			SyncWrites:   true,
			QueueSize:    4096,
			DrainTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "sentinel",
		},
		Server: ServerConfig{
			Address:        ":19090",
			ResetRateLimit: 1,
			ResetBurst:     3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Policy: PolicyConfig{
			Enabled:    true,
			Entrypoint: "sentinel/reset/decision",
			Posture:    "fail-closed",
		},
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. Governor defaults are sized for the DOF the file or the
// environment selects, so unset thresholds scale with the channel count.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	dof, err := selectedDOF(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg := DefaultFor(dof)

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// selectedDOF peeks at governor.dof in data and SENTINEL_DOF. Invalid values
// fall back to DefaultDOF here and are reported by the full parse or by
// validation.
func selectedDOF(data []byte) (int, error) {
	dof := DefaultDOF
	if len(data) > 0 {
		var peek struct {
			Governor struct {
				DOF int `yaml:"dof"`
			} `yaml:"governor"`
		}
		if err := yaml.Unmarshal(data, &peek); err != nil {
			return 0, err
		}
		if peek.Governor.DOF > 0 {
			dof = peek.Governor.DOF
		}
	}
	if v, err := strconv.Atoi(os.Getenv("SENTINEL_DOF")); err == nil && v > 0 {
		dof = v
	}
	return dof, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("SENTINEL_ADMIN_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("SENTINEL_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("SENTINEL_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("SENTINEL_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = strings.ToLower(val)
	}
	if val := os.Getenv("SENTINEL_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}
	if val := os.Getenv("SENTINEL_AUDIT_ENABLED"); val != "" {
		cfg.Audit.Enabled = val == "true"
	}
	if val := os.Getenv("SENTINEL_POLICY_POSTURE"); val != "" {
		cfg.Policy.Posture = val
	}

	if val := os.Getenv("SENTINEL_DOF"); val != "" {
		dof, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("SENTINEL_DOF: %w", err)
		}
		cfg.Governor.DOF = dof
	}
	if val := os.Getenv("SENTINEL_WCET"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("SENTINEL_WCET: %w", err)
		}
		cfg.Governor.WCET = d
	}
	if val := os.Getenv("SENTINEL_TICK_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("SENTINEL_TICK_INTERVAL: %w", err)
		}
		cfg.Runtime.TickInterval = d
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the governor's own invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%w: %s failed %q", domain.ErrConfigInvalid, first.Namespace(), first.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	if err := c.Governor.ToGovernance().Validate(); err != nil {
		return fmt.Errorf("governor configuration: %w", err)
	}

	if c.Server.TLS != nil {
		if err := c.Server.TLS.Validate(); err != nil {
			return fmt.Errorf("%w: server tls: %v", domain.ErrConfigInvalid, err)
		}
	}
	return nil
}

// ToGovernance converts the YAML table into the governor's configuration.
func (g GovernorConfig) ToGovernance() governance.Config {
	return governance.Config{
		DOF:               g.DOF,
		ForgettingFactor:  g.ForgettingFactor,
		InitialTheta:      g.InitialTheta,
		InitialCovariance: g.InitialCovariance,
		ThetaMin:          g.ThetaMin,
		ThetaMax:          g.ThetaMax,
		ExcitationEpsilon: g.ExcitationEpsilon,
		Nominal: governance.NominalParams{
			Mass:     g.NominalMass,
			Friction: g.NominalFriction,
		},
		StabilityEnergyThreshold: g.StabilityEnergyThreshold,
		RedundancyThreshold:      g.RedundancyThreshold,
		RedundancySmoothing:      g.RedundancySmoothing,
		WCET:                     g.WCET,
		CovarianceDegradedTrace:  g.CovarianceDegradedTrace,
		CovarianceFallbackTrace:  g.CovarianceFallbackTrace,
		ConfidenceCap:            g.ConfidenceCap,
		DriftGain:                g.DriftGain,
		DriftLowThreshold:        g.DriftLowThreshold,
		DriftHighThreshold:       g.DriftHighThreshold,
		IntegrityTag:             g.IntegrityTag,
	}
}

// FromGovernance converts a governor configuration into its YAML form.
func FromGovernance(c governance.Config) GovernorConfig {
	return GovernorConfig{
		DOF:                      c.DOF,
		ForgettingFactor:         c.ForgettingFactor,
		InitialTheta:             c.InitialTheta,
		InitialCovariance:        c.InitialCovariance,
		ThetaMin:                 c.ThetaMin,
		ThetaMax:                 c.ThetaMax,
		ExcitationEpsilon:        c.ExcitationEpsilon,
		NominalMass:              c.Nominal.Mass,
		NominalFriction:          c.Nominal.Friction,
		StabilityEnergyThreshold: c.StabilityEnergyThreshold,
		RedundancyThreshold:      c.RedundancyThreshold,
		RedundancySmoothing:      c.RedundancySmoothing,
		WCET:                     c.WCET,
		CovarianceDegradedTrace:  c.CovarianceDegradedTrace,
		CovarianceFallbackTrace:  c.CovarianceFallbackTrace,
		ConfidenceCap:            c.ConfidenceCap,
		DriftGain:                c.DriftGain,
		DriftLowThreshold:        c.DriftLowThreshold,
		DriftHighThreshold:       c.DriftHighThreshold,
		IntegrityTag:             c.IntegrityTag,
	}
}
