package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmFromSamples([]int16{0, 16384, -16384, 8192})
	wav := EncodeWAV(pcm, 22050)

	decoded, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 22050 {
		t.Errorf("expected rate 22050, got %d", rate)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Errorf("expected %v, got %v", pcm, decoded)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// Left 1000, right 3000 should average to 2000.
	wav := EncodeWAV(nil, 16000)
	// Patch channel count and rebuild with interleaved stereo data.
	binary.LittleEndian.PutUint16(wav[22:24], 2)
	stereo := make([]byte, 8)
	binary.LittleEndian.PutUint16(stereo[0:2], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(stereo[2:4], uint16(int16(3000)))
	secondLeft := int16(-2000)
	secondRight := int16(-4000)
	binary.LittleEndian.PutUint16(stereo[4:6], uint16(secondLeft))
	binary.LittleEndian.PutUint16(stereo[6:8], uint16(secondRight))
	binary.LittleEndian.PutUint32(wav[40:44], uint32(len(stereo)))
	wav = append(wav, stereo...)

	mono, _, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mono) != 4 {
		t.Fatalf("expected 2 mono samples, got %d bytes", len(mono))
	}
	first := int16(binary.LittleEndian.Uint16(mono[0:2]))
	second := int16(binary.LittleEndian.Uint16(mono[2:4]))
	if first != 2000 {
		t.Errorf("expected downmixed 2000, got %d", first)
	}
	if second != -3000 {
		t.Errorf("expected downmixed -3000, got %d", second)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("OGGS0000WAVE")},
		{"truncated", []byte("RIFF\x00\x00\x00\x00WAVE")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDecodeWAVRejectsUnsupportedFormats(t *testing.T) {
	base := EncodeWAV(pcmFromSamples([]int16{3277}), 16000)

	float32Fmt := append([]byte(nil), base...)
	binary.LittleEndian.PutUint16(float32Fmt[20:22], 3)
	if _, _, err := DecodeWAV(float32Fmt); err == nil {
		t.Error("expected error for non-PCM format")
	}

	eightBit := append([]byte(nil), base...)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)
	if _, _, err := DecodeWAV(eightBit); err == nil {
		t.Error("expected error for 8-bit depth")
	}
}
