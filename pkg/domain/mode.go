package domain

// RuntimeMode is the safety posture of a governed actuator.
type RuntimeMode string

const (
	// ModeNormal permits full actuation and online adaptation.
	ModeNormal RuntimeMode = "normal"
	// ModeDegraded keeps adapting but signals reduced trust (timing or conditioning).
	ModeDegraded RuntimeMode = "degraded"
	// ModeSafeFallback freezes the estimator and attenuates commands to a crawl.
	ModeSafeFallback RuntimeMode = "safe_fallback"
	// ModeInternalFault freezes the estimator and demands a hard stop.
	ModeInternalFault RuntimeMode = "internal_fault"
)

// Severity orders modes from least (0) to most (3) severe. Unknown modes are
// treated as the most severe.
func (m RuntimeMode) Severity() int {
	switch m {
	case ModeNormal:
		return 0
	case ModeDegraded:
		return 1
	case ModeSafeFallback:
		return 2
	default:
		return 3
	}
}

// AllowsAdaptation reports whether the estimator may update in this mode.
func (m RuntimeMode) AllowsAdaptation() bool {
	return m == ModeNormal || m == ModeDegraded
}

// Valid reports whether m is one of the declared modes.
func (m RuntimeMode) Valid() bool {
	switch m {
	case ModeNormal, ModeDegraded, ModeSafeFallback, ModeInternalFault:
		return true
	}
	return false
}

// HazardLevel classifies a detected safety-relevant anomaly.
type HazardLevel string

const (
	HazardNone         HazardLevel = "none"
	HazardDrift        HazardLevel = "h1_drift"
	HazardStability    HazardLevel = "h2_stability"
	HazardAuthority    HazardLevel = "h3_authority"
	HazardCatastrophic HazardLevel = "h4_catastrophic"
)

// RiskLevel is the discretized risk carried by an advisory.
type RiskLevel string

const (
	RiskNominal  RiskLevel = "nominal"
	RiskHigh     RiskLevel = "high_risk"
	RiskCritical RiskLevel = "critical"
)
