package audio

import (
	"time"
)

// Assembler accumulates arbitrarily sized byte chunks and emits exact
// frames in arrival order. Leftover bytes are carried into the next push;
// no sample is ever dropped or reordered.
type Assembler struct {
	format  Format
	pending []byte
	nextSeq uint64
	clock   func() time.Time
}

func NewAssembler(format Format) *Assembler {
	return &Assembler{
		format: format,
		clock:  time.Now,
	}
}

// Push appends a chunk and returns every complete frame it closes.
// Odd-length chunks are rejected whole so the carry never misaligns.
func (a *Assembler) Push(chunk []byte) ([]Frame, error) {
	if len(chunk)%2 != 0 {
		return nil, ErrMalformedInput
	}
	a.pending = append(a.pending, chunk...)

	frameBytes := a.format.FrameBytes()
	var frames []Frame
	for len(a.pending) >= frameBytes {
		samples, err := DecodeSamples(a.pending[:frameBytes])
		if err != nil {
			return frames, err
		}
		frames = append(frames, Frame{
			Samples:    samples,
			SampleRate: a.format.SampleRate,
			Seq:        a.nextSeq,
			Captured:   a.clock(),
		})
		a.nextSeq++
		a.pending = a.pending[frameBytes:]
	}
	if len(a.pending) == 0 {
		a.pending = nil
	}
	return frames, nil
}

// PendingBytes reports how many carried bytes await the next chunk.
func (a *Assembler) PendingBytes() int {
	return len(a.pending)
}

// Window is a time-bounded FIFO of processed frames. Eviction is by
// buffered audio duration rather than frame count, so a reconfigured
// frame length never skews the analysis horizon. Media time is used, not
// wall clock, which keeps faster-than-real-time bulk processing honest.
type Window struct {
	span     time.Duration
	frames   []Frame
	buffered time.Duration
}

func NewWindow(span time.Duration) *Window {
	return &Window{span: span}
}

func (w *Window) Append(f Frame) {
	w.frames = append(w.frames, f)
	w.buffered += f.Duration()
	for len(w.frames) > 1 && w.buffered > w.span {
		w.buffered -= w.frames[0].Duration()
		w.frames = append(w.frames[:0], w.frames[1:]...)
	}
}

// Frames returns the buffered frames oldest first. The slice is shared;
// callers treat it as read-only.
func (w *Window) Frames() []Frame {
	return w.frames
}

func (w *Window) Len() int {
	return len(w.frames)
}

// Span reports the buffered audio duration.
func (w *Window) Span() time.Duration {
	return w.buffered
}

func (w *Window) Reset() {
	w.frames = nil
	w.buffered = 0
}
