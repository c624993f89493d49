package audio

import (
	"testing"
	"time"
)

var testFormat = Format{SampleRate: 16000, FrameMS: 20, Channels: 1}

func TestAssemblerExactFrames(t *testing.T) {
	a := NewAssembler(testFormat)
	chunk := make([]byte, testFormat.FrameBytes()*2)
	frames, err := a.Push(chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Seq != 0 || frames[1].Seq != 1 {
		t.Fatalf("expected sequential frame indices, got %d and %d", frames[0].Seq, frames[1].Seq)
	}
	if a.PendingBytes() != 0 {
		t.Fatalf("expected no carry, got %d bytes", a.PendingBytes())
	}
}

func TestAssemblerCarriesRemainder(t *testing.T) {
	a := NewAssembler(testFormat)
	half := make([]byte, testFormat.FrameBytes()/2)

	frames, err := a.Push(half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no frame from half chunk, got %d", len(frames))
	}
	if a.PendingBytes() != len(half) {
		t.Fatalf("expected %d pending bytes, got %d", len(half), a.PendingBytes())
	}

	frames, err = a.Push(half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected frame to close after second half, got %d", len(frames))
	}
	if len(frames[0].Samples) != testFormat.SamplesPerFrame() {
		t.Fatalf("expected %d samples, got %d", testFormat.SamplesPerFrame(), len(frames[0].Samples))
	}
}

func TestAssemblerPreservesSampleOrder(t *testing.T) {
	a := NewAssembler(testFormat)
	samples := make([]int16, testFormat.SamplesPerFrame())
	for i := range samples {
		samples[i] = int16(i)
	}
	raw := EncodeSamples(samples)

	var got []Frame
	for i := 0; i < len(raw); i += 100 {
		end := i + 100
		if end > len(raw) {
			end = len(raw)
		}
		frames, err := a.Push(raw[i:end])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, frames...)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	for i, s := range got[0].Samples {
		if s != int16(i) {
			t.Fatalf("sample %d out of order: got %d", i, s)
		}
	}
}

func TestAssemblerRejectsOddChunk(t *testing.T) {
	a := NewAssembler(testFormat)
	if _, err := a.Push([]byte{0x01}); err == nil {
		t.Fatal("expected error for odd-length chunk")
	}
}

func TestWindowEvictsByDuration(t *testing.T) {
	w := NewWindow(500 * time.Millisecond)
	base := time.Now()
	for i := 0; i < 40; i++ {
		w.Append(Frame{
			Samples:    make([]int16, testFormat.SamplesPerFrame()),
			SampleRate: testFormat.SampleRate,
			Seq:        uint64(i),
			Captured:   base.Add(time.Duration(i) * 20 * time.Millisecond),
		})
	}
	// 0.5s of 20ms frames is 25 frames.
	if w.Len() != 25 {
		t.Fatalf("expected 25 buffered frames, got %d", w.Len())
	}
	if w.Span() != 500*time.Millisecond {
		t.Fatalf("expected 500ms span, got %v", w.Span())
	}
	frames := w.Frames()
	if frames[0].Seq != 15 {
		t.Fatalf("expected oldest surviving frame seq 15, got %d", frames[0].Seq)
	}
	if frames[len(frames)-1].Seq != 39 {
		t.Fatalf("expected newest frame seq 39, got %d", frames[len(frames)-1].Seq)
	}
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(500 * time.Millisecond)
	w.Append(Frame{Samples: make([]int16, 320), SampleRate: 16000})
	w.Reset()
	if w.Len() != 0 || w.Span() != 0 {
		t.Fatalf("expected empty window after reset, got %d frames / %v", w.Len(), w.Span())
	}
}
