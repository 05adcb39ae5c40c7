package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWAV is returned by [DecodeWAV] for data that is not a 16-bit PCM
// RIFF/WAVE stream.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

const (
	wavHeaderSize = 44

	formatPCM        = 1
	formatExtensible = 0xFFFE

	// streamedSize is written by encoders that cannot seek back to patch the
	// chunk size, e.g. ffmpeg writing to a pipe.
	streamedSize = 0xFFFFFFFF
)

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	bps := BytesPerSample * 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a 16-bit PCM WAV file and returns its samples as a Frame.
// Unknown chunks such as LIST are skipped. A data chunk whose declared size is
// zero, the streaming placeholder, or larger than the remaining input extends to
// the end of the input.
func DecodeWAV(data []byte) (Frame, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Frame{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Frame{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if (tag != formatPCM && tag != formatExtensible) || bits != 16 {
				return Frame{}, fmt.Errorf("%w: unsupported encoding tag=%d bits=%d", ErrInvalidWAV, tag, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if f.Channels <= 0 || f.SampleRate <= 0 {
				return Frame{}, fmt.Errorf("%w: invalid format %s", ErrInvalidWAV, f)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return Frame{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := len(data)
			if size != 0 && size != streamedSize && body+int(size) <= len(data) {
				end = body + int(size)
			}
			pcm := data[body:end]
			pcm = pcm[:len(pcm)-len(pcm)%f.FrameSize()]
			return Frame{Data: pcm, Format: f}, nil
		}

		if size == streamedSize || body+int(size) > len(data) {
			break
		}
		// Chunks are padded to an even size.
		pos = body + int(size) + int(size&1)
	}
	return Frame{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// Float32 converts interleaved 16-bit PCM to mono float32 samples in [-1, 1],
// averaging channels per frame.
func Float32(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (BytesPerSample * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * BytesPerSample
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:idx+2]))) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// RMS returns the root-mean-square energy of a 16-bit PCM buffer in sample units
// (0 to 32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
