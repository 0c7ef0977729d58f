package params

// Parameter names and defaults, per spec.md §6's "Parameter surface" table.
const (
	MaxInFlight        = "MAX_IN_FLIGHT"
	MaxRPM             = "MAX_RPM"
	SSMCacheTTL        = "SSM_CACHE_TTL"
	IntakeMaxInFlight  = "INTAKE_MAX_IN_FLIGHT"
	IntakeMaxRunning   = "INTAKE_MAX_RUNNING"
	BatchSize          = "BATCH_SIZE"
	BatchSizeLow       = "BATCH_SIZE_LOW"
	MaxRetries         = "MAX_RETRIES"
	ReconcilerEnabled  = "RECONCILER_ENABLED"
	ReconcilerMaxDrift = "RECONCILER_MAX_DRIFT"
	StaleEntryThresholdMinutes = "STALE_ENTRY_THRESHOLD"
)

const (
	DefaultMaxInFlight        = 150
	DefaultMaxRPM             = 180
	DefaultIntakeMaxInFlight  = 5
	DefaultIntakeMaxRunning   = 10
	DefaultBatchSize          = 5
	DefaultBatchSizeLow       = 3
	DefaultMaxRetries         = 3
	DefaultReconcilerEnabled  = true
	DefaultReconcilerMaxDrift = 5
	DefaultStaleEntryThresholdMinutes = 15
)
