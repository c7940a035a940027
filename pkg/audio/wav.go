package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the byte length of a canonical PCM WAV header.
const wavHeaderSize = 44

// ErrNotWAV is returned by DecodeWAV when the input lacks a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// EncodeWAV wraps little-endian int16 mono PCM in a canonical 44-byte WAV
// header. The result is suitable for upload to transcription and token
// encoder services and for per-segment corpus files.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	dataLen := len(pcm)
	buf := make([]byte, wavHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize+dataLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[wavHeaderSize:], pcm)

	return buf
}

// DecodeWAV parses a 16-bit PCM WAV file and returns its sample data as
// little-endian int16 mono PCM plus the sample rate. Stereo input is downmixed
// to mono. Compressed or non-16-bit formats are rejected.
func DecodeWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		format     uint16
		channels   uint16
		bitsPerSmp uint16
	)

	// Walk the chunk list. The fmt chunk must precede data.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, 0, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("audio: fmt chunk too short")
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSmp = binary.LittleEndian.Uint16(data[body+14 : body+16])

		case "data":
			if format != 1 || bitsPerSmp != 16 {
				return nil, 0, fmt.Errorf("audio: unsupported WAV format (format=%d bits=%d)", format, bitsPerSmp)
			}
			pcm = data[body : body+size]
			switch channels {
			case 1:
				// Copy so the caller does not alias the input buffer.
				out := make([]byte, len(pcm))
				copy(out, pcm)
				return out, sampleRate, nil
			case 2:
				return StereoToMono(pcm), sampleRate, nil
			default:
				return nil, 0, fmt.Errorf("audio: unsupported channel count %d", channels)
			}
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	return nil, 0, errors.New("audio: missing data chunk")
}
