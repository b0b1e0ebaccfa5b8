package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE container and reports
// its sample rate. Stereo input is downmixed to mono by averaging.
// Only uncompressed 16-bit PCM is accepted, which is what the speech
// synthesis engines emit.
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE container")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		format     int
		pcm        []byte
		haveFmt    bool
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, 0, fmt.Errorf("chunk %q overruns container", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			format = int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are padded to even sizes.
		off = body + size + size%2
	}

	if !haveFmt {
		return nil, 0, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("missing data chunk")
	}
	if format != 1 {
		return nil, 0, fmt.Errorf("unsupported WAV format %d, want PCM", format)
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d, want 16", bits)
	}

	switch channels {
	case 1:
		return pcm, sampleRate, nil
	case 2:
		mono := make([]byte, 0, len(pcm)/2)
		for i := 0; i+4 <= len(pcm); i += 4 {
			left := int16(pcm[i]) | int16(pcm[i+1])<<8
			right := int16(pcm[i+2]) | int16(pcm[i+3])<<8
			mixed := int16((int32(left) + int32(right)) / 2)
			mono = append(mono, byte(mixed), byte(mixed>>8))
		}
		return mono, sampleRate, nil
	default:
		return nil, 0, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// EncodeWAV wraps mono 16-bit PCM in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const headerLen = 44
	out := make([]byte, headerLen+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], 1)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out
}
