// Package audio holds the PCM primitives shared by the session pipeline:
// format math, 16-bit codec, energy measurement, and the per-session
// sequence-checked frame buffer.
package audio

import "math"

// EnergyFloorDB is the value reported for digital silence, matching the
// dynamic range of 16-bit audio.
const EnergyFloorDB = -96.0

// DecodePCM16 converts 16-bit signed little-endian PCM to normalized
// float64 samples in [-1, 1).
func DecodePCM16(pcm []byte) []float64 {
	samples := make([]float64, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		samples = append(samples, float64(s)/32768.0)
	}
	return samples
}

// EncodePCM16 converts normalized float64 samples to 16-bit signed
// little-endian PCM, clamping to [-1, 1].
func EncodePCM16(samples []float64) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(s) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM
// data. Returns a value between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(s))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}

// EnergyDB converts an RMS energy value to decibels relative to full
// scale. Zero or negative energy reports EnergyFloorDB.
func EnergyDB(rms float64) float64 {
	if rms <= 0 {
		return EnergyFloorDB
	}
	db := 20 * math.Log10(rms)
	if db < EnergyFloorDB {
		return EnergyFloorDB
	}
	return db
}
