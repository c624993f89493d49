package enhance

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/resonlabs/reson-core/internal/config"
)

// execEnhancer shells out to an external model runner. The subprocess is
// handed the frame as a WAV file and writes the enhanced WAV to a second
// path; both are temp files removed after the call. Calls are serialized
// so a single-threaded backend is never re-entered.
type execEnhancer struct {
	cmd []string
	cfg config.EnhancerConfig
	mu  sync.Mutex
}

func NewExecEnhancer(cfg config.EnhancerConfig) (Enhancer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse enhancer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("enhancer command is empty")
	}
	return &execEnhancer{cmd: args, cfg: cfg}, nil
}

func (e *execEnhancer) Ready() bool { return true }

func (e *execEnhancer) Enhance(ctx context.Context, sampleRate int, samples []int16) ([]int16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tmpDir := os.TempDir()
	inFile, err := os.CreateTemp(tmpDir, "reson_enhance_in_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(inFile.Name())
	defer inFile.Close()

	outFile, err := os.CreateTemp(tmpDir, "reson_enhance_out_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(outFile.Name())
	outFile.Close()

	if err := writeSamplesToWav(inFile, samples, sampleRate); err != nil {
		return nil, err
	}

	args := append([]string{}, e.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--input", inFile.Name(), "--output", outFile.Name())
	if e.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", e.cfg.ModelPath)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("enhancer command failed: %w: %s", err, stderr.String())
	}

	return readSamplesFromWav(outFile.Name())
}

func writeSamplesToWav(file *os.File, samples []int16, sampleRate int) error {
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer.Data = data

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func readSamplesFromWav(path string) ([]int16, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open enhanced wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode enhanced wav: %w", err)
	}
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = int16(v)
	}
	return out, nil
}
