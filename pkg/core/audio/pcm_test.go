package audio

import (
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s & 0xFF)
		pcm[i*2+1] = byte((s >> 8) & 0xFF)
	}
	return pcm
}

func TestCalculateRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "max amplitude",
			samples:  []int16{32767, 32767, 32767, 32767},
			expected: 1.0,
		},
		{
			name:     "half amplitude",
			samples:  []int16{16384, 16384, 16384, 16384},
			expected: 0.5,
		},
		{
			name:     "mixed signal",
			samples:  []int16{16384, -16384, 16384, -16384},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateRMSEnergy(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestCalculatePeakAmplitude(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "positive peak",
			samples:  []int16{0, 16384, 0, 0},
			expected: 0.5,
		},
		{
			name:     "negative peak",
			samples:  []int16{0, -32768, 0, 0},
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculatePeakAmplitude(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected peak %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []float64{0, 0.5, -0.5, 0.999, -0.999}
	pcm := EncodePCM16(in)
	out := DecodePCM16(pcm)

	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if math.Abs(out[i]-in[i]) > 0.001 {
			t.Errorf("sample %d: expected %.4f, got %.4f", i, in[i], out[i])
		}
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	pcm := EncodePCM16([]float64{2.0, -2.0})
	out := DecodePCM16(pcm)
	if out[0] < 0.99 || out[0] > 1.0 {
		t.Errorf("expected +2.0 clamped to full scale, got %.4f", out[0])
	}
	if out[1] > -0.99 || out[1] < -1.0 {
		t.Errorf("expected -2.0 clamped to full scale, got %.4f", out[1])
	}
}

func TestEnergyDB(t *testing.T) {
	tests := []struct {
		name     string
		rms      float64
		expected float64
	}{
		{"zero is floor", 0, EnergyFloorDB},
		{"negative is floor", -1, EnergyFloorDB},
		{"full scale", 1.0, 0},
		{"half scale", 0.5, -6.02},
		{"tiny clamps to floor", 1e-9, EnergyFloorDB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EnergyDB(tt.rms)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected %.2f dB, got %.2f dB", tt.expected, result)
			}
		})
	}
}

func TestConfigMath(t *testing.T) {
	cfg := DefaultConfig()

	// 16kHz, mono, 16-bit = 32000 bytes/second
	if cfg.BytesPerSecond() != 32000 {
		t.Errorf("expected 32000 bytes/sec, got %d", cfg.BytesPerSecond())
	}
	if cfg.BytesForDurationMs(1000) != 32000 {
		t.Errorf("expected 32000 bytes for 1s, got %d", cfg.BytesForDurationMs(1000))
	}
	if cfg.DurationMs(32000) != 1000 {
		t.Errorf("expected 1000ms for 32000 bytes, got %d", cfg.DurationMs(32000))
	}
	if cfg.SamplesForDurationMs(100) != 1600 {
		t.Errorf("expected 1600 samples for 100ms, got %d", cfg.SamplesForDurationMs(100))
	}
}
