package audio

import (
	"math"
	"testing"
)

func TestResampleIdentity(t *testing.T) {
	in := []float64{0.1, 0.2, 0.3}
	out := Resample(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("index %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestResampleDownsamplesLength(t *testing.T) {
	in := make([]float64, 22050)
	out := Resample(in, 22050, 16000)
	if got, want := len(out), 16000; got != want {
		t.Errorf("expected %d samples for one second, got %d", want, got)
	}
}

func TestResamplePreservesTone(t *testing.T) {
	// A 100Hz tone resampled from 48k to 16k keeps its shape; check a
	// few interpolated points against the analytic value.
	const freq = 100.0
	in := make([]float64, 4800)
	for i := range in {
		in[i] = math.Sin(2 * math.Pi * freq * float64(i) / 48000)
	}

	out := Resample(in, 48000, 16000)
	if len(out) != 1600 {
		t.Fatalf("expected 1600 samples, got %d", len(out))
	}
	for _, i := range []int{100, 500, 1200} {
		want := math.Sin(2 * math.Pi * freq * float64(i) / 16000)
		if math.Abs(out[i]-want) > 0.01 {
			t.Errorf("sample %d: expected %.4f, got %.4f", i, want, out[i])
		}
	}
}

func TestResampleEmpty(t *testing.T) {
	if out := Resample(nil, 22050, 16000); len(out) != 0 {
		t.Errorf("expected no samples, got %d", len(out))
	}
}
