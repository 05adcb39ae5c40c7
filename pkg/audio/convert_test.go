package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func assertSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_Stereo(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	assertSamples(t, bytesToSamples(audio.Downmix(stereo, 2)), []int16{150, -150})
}

func TestDownmix_NoOverflow(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767, -32768, -32768})
	assertSamples(t, bytesToSamples(audio.Downmix(stereo, 2)), []int16{32767, -32768})
}

func TestDownmix_MultiChannel(t *testing.T) {
	pcm := samplesToBytes([]int16{30, 60, 90, -3, -6, -9})
	assertSamples(t, bytesToSamples(audio.Downmix(pcm, 3)), []int16{60, -6})
}

func TestDownmix_MonoUnchanged(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3})
	out := audio.Downmix(pcm, 1)
	if &out[0] != &pcm[0] {
		t.Error("expected same slice for mono input")
	}
}

func TestDownmix_TrailingPartialFrame(t *testing.T) {
	pcm := append(samplesToBytes([]int16{100, 200}), 0xFF)
	assertSamples(t, bytesToSamples(audio.Downmix(pcm, 2)), []int16{150})
}

func TestResample16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.Resample16(pcm, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResample16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{1000, 2000}), 16000, 48000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	if last := got[len(got)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResample16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	got := bytesToSamples(audio.Resample16(pcm, 48000, 16000))
	assertSamples(t, got, []int16{100, 400})
}

func TestResample16_InvalidRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 16000}} {
		if out := audio.Resample16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
			t.Errorf("Resample16(%d, %d): expected unchanged output, got len %d", rates[0], rates[1], len(out))
		}
	}
}

func TestConverter_NoOp(t *testing.T) {
	conv := audio.Converter{SampleRate: 16000}
	frame := audio.Frame{
		Data:   samplesToBytes([]int16{100, 200}),
		Format: audio.SpeechFormat,
	}
	result := conv.Convert(frame)
	if &result.Data[0] != &frame.Data[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestConverter_StereoToSpeech(t *testing.T) {
	conv := audio.Converter{SampleRate: 16000}
	// 6 stereo frames at 48kHz → 2 mono samples at 16kHz
	frame := audio.Frame{
		Data:   samplesToBytes([]int16{100, 300, 0, 0, 0, 0, 1000, 1000, 0, 0, 0, 0}),
		Format: audio.Format{SampleRate: 48000, Channels: 2},
		Offset: 3 * time.Second,
	}
	result := conv.Convert(frame)
	if result.Format != audio.SpeechFormat {
		t.Errorf("format = %s, want %s", result.Format, audio.SpeechFormat)
	}
	if result.Offset != frame.Offset {
		t.Errorf("offset = %v, want %v", result.Offset, frame.Offset)
	}
	assertSamples(t, bytesToSamples(result.Data), []int16{200, 1000})
}

func TestConverter_PartialFrameDropped(t *testing.T) {
	tests := []struct {
		name   string
		format audio.Format
		data   []byte
	}{
		{name: "odd bytes mono matching", format: audio.SpeechFormat, data: []byte{1, 2, 3}},
		{name: "odd bytes mismatched", format: audio.Format{SampleRate: 22050, Channels: 1}, data: []byte{1, 2, 3}},
		{name: "half stereo frame", format: audio.Format{SampleRate: 48000, Channels: 2}, data: []byte{1, 2, 3, 4, 5, 6}},
		{name: "zero channels", format: audio.Format{SampleRate: 48000}, data: []byte{1, 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conv := audio.Converter{SampleRate: 16000}
			result := conv.Convert(audio.Frame{Data: tc.data, Format: tc.format})
			if len(result.Data) != 0 {
				t.Errorf("expected empty data, got %d bytes", len(result.Data))
			}
			if result.Format != audio.SpeechFormat {
				t.Errorf("dropped frame format = %s, want target %s", result.Format, audio.SpeechFormat)
			}
		})
	}
}

func TestFormat_BytesAndDuration(t *testing.T) {
	f := audio.SpeechFormat
	if got := f.Bytes(4 * time.Second); got != 128000 {
		t.Errorf("Bytes(4s) = %d, want 128000", got)
	}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	stereo := audio.Format{SampleRate: 44100, Channels: 2}
	if got := stereo.Bytes(10 * time.Millisecond); got%stereo.FrameSize() != 0 {
		t.Errorf("Bytes(10ms) = %d, not frame aligned", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
	if got := stereo.String(); got != "44100Hz stereo" {
		t.Errorf("String() = %q", got)
	}
}
