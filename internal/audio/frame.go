package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedInput reports bytes that cannot form whole int16 samples.
var ErrMalformedInput = errors.New("audio: malformed input")

// FullScale is the int16 full-scale reference used for dBFS conversions.
const FullScale = 32768.0

// Format describes the fixed stream format. All frames in a process share
// one format; mixing rates is not supported.
type Format struct {
	SampleRate int
	FrameMS    int
	Channels   int
}

func (f Format) SamplesPerFrame() int {
	return f.SampleRate * f.FrameMS / 1000
}

func (f Format) FrameBytes() int {
	return f.SamplesPerFrame() * 2
}

func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.FrameMS) * time.Millisecond
}

// Frame is one fixed-duration chunk of mono 16-bit PCM. Samples are owned
// by the frame after construction; callers must not mutate them.
type Frame struct {
	Samples    []int16
	SampleRate int
	Seq        uint64
	Captured   time.Time
}

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// DecodeSamples converts little-endian int16 PCM bytes into samples.
// Odd-length input is rejected, never truncated.
func DecodeSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of int16 samples", ErrMalformedInput, len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// EncodeSamples converts samples back to little-endian int16 PCM bytes.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS is the root-mean-square amplitude on the int16 scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
