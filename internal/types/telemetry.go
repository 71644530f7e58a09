package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAccessDecision   = "AccessDecision"
	MetricCreditsCommitted = "CreditsCommitted"
	MetricCycleRollover    = "CycleRollover"
	MetricAPILatency       = "APILatency"

	// Dimension Keys
	DimFeature = "Feature"
	DimStatus  = "Status"
	DimTier    = "Tier"

	// Metric Namespace
	MetricNamespace = "Flui/Entitlements"
)
