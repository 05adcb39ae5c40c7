package audio

import (
	"log/slog"
	"sync"
)

// Converter converts frames to a mono target format. It logs a warning on the
// first format mismatch and drops frames whose byte count is not a whole number
// of sample frames. Create one per stream; not designed for shared use across
// goroutines.
type Converter struct {
	// SampleRate is the target rate in Hz. The target is always mono.
	SampleRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. If the frame already matches, it is
// returned unchanged (zero allocation). Channels are mixed down before
// resampling so the resampler only ever sees mono data.
func (c *Converter) Convert(frame Frame) Frame {
	target := Format{SampleRate: c.SampleRate, Channels: 1}

	if frame.Channels <= 0 || len(frame.Data)%frame.FrameSize() != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: partial sample frame in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"format", frame.Format.String(),
			)
		})
		return Frame{Format: target, Offset: frame.Offset}
	}

	if frame.Format == target {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", frame.Format.String(),
			"to", target.String(),
		)
	})

	pcm := Downmix(frame.Data, frame.Channels)
	pcm = Resample16(pcm, frame.SampleRate, target.SampleRate)
	return Frame{Data: pcm, Format: target, Offset: frame.Offset}
}

// Downmix averages all channels of interleaved PCM into a single mono channel.
// It uses int32 arithmetic so the sum cannot overflow. Trailing bytes that do not
// form a complete frame are ignored. Mono input is returned unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * BytesPerSample
	frames := len(pcm) / stride
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := i*stride + ch*BytesPerSample
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is not positive, the input is
// returned unchanged.
func Resample16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}
