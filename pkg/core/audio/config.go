package audio

// Config specifies audio format parameters.
type Config struct {
	// SampleRate in Hz. The session pipeline runs at 16000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultConfig returns the pipeline's standard format: 16 kHz mono PCM16.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// BytesPerSample returns the size of one sample across all channels.
func (c Config) BytesPerSample() int {
	return c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// SamplesForDurationMs returns the per-channel sample count for the given duration.
func (c Config) SamplesForDurationMs(ms int) int {
	return (c.SampleRate * ms) / 1000
}
