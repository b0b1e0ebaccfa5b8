package turn

// EnergyGateDB is the floor applied to incoming audio while a response
// is playing. Windows below it are presumed to be echo or room noise
// and are never fed to barge-in detection.
const EnergyGateDB = -45.0

// BargeConfig tunes barge-in qualification.
type BargeConfig struct {
	// MinDurationMs of sustained speech before an onset during an
	// active turn counts as a barge-in rather than a cough.
	MinDurationMs int `json:"min_duration_ms"`
	// ThresholdDB a window must reach to count toward the duration.
	ThresholdDB float64 `json:"threshold_db"`
}

// DefaultBargeConfig requires 150ms of speech above -40dB.
func DefaultBargeConfig() BargeConfig {
	return BargeConfig{MinDurationMs: 150, ThresholdDB: -40.0}
}

// BargeDetector accumulates consecutive loud windows and fires once
// they span the configured duration. Not safe for concurrent use; one
// detector lives on the session goroutine.
type BargeDetector struct {
	config  BargeConfig
	accumMs int
	fired   bool
}

// NewBargeDetector returns a detector with zero accumulated speech.
func NewBargeDetector(config BargeConfig) *BargeDetector {
	if config.MinDurationMs <= 0 {
		config.MinDurationMs = 150
	}
	if config.ThresholdDB == 0 {
		config.ThresholdDB = -40.0
	}
	return &BargeDetector{config: config}
}

// Observe feeds one window. It returns true exactly once per run of
// consecutive qualifying windows, when the accumulated duration first
// reaches the minimum. A quiet window resets the run.
func (d *BargeDetector) Observe(windowMs int, energyDB float64) bool {
	if energyDB < d.config.ThresholdDB {
		d.accumMs = 0
		d.fired = false
		return false
	}
	d.accumMs += windowMs
	if d.fired || d.accumMs < d.config.MinDurationMs {
		return false
	}
	d.fired = true
	return true
}

// Reset clears accumulated speech, used when a new turn begins.
func (d *BargeDetector) Reset() {
	d.accumMs = 0
	d.fired = false
}
