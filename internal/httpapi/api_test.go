package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/config"
	"github.com/resonlabs/reson-core/internal/scorestore"
	"github.com/resonlabs/reson-core/internal/stream"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	cfg := config.Default()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := scorestore.Open(context.Background(), config.ScoreStoreConfig{RetentionMode: "ephemeral"}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	registry := stream.NewRegistry(context.Background(), cfg, nil, nil, log)
	t.Cleanup(registry.Shutdown)

	return New(cfg, registry, store, log)
}

func toneSamples(freq, amplitude float64, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return samples
}

func TestConfidenceUnknownStream(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/streams/nope/confidence")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in body")
	}
}

func TestListStreamsEmpty(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/streams")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		ActiveStreams []string `json:"active_streams"`
		MaxConcurrent int      `json:"max_concurrent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(payload.ActiveStreams) != 0 {
		t.Fatalf("expected no active streams, got %v", payload.ActiveStreams)
	}
	if payload.MaxConcurrent != 10 {
		t.Fatalf("expected max 10, got %d", payload.MaxConcurrent)
	}
}

func TestAnalyzeRawPCM(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	pcm := audio.EncodeSamples(toneSamples(200, 8000, 16000))
	resp, err := http.Post(srv.URL+"/v1/analyze", "application/octet-stream", bytes.NewReader(pcm))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var payload analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.StreamID == "" {
		t.Fatal("expected a stream id")
	}
	if payload.Confidence < 0 || payload.Confidence > 100 {
		t.Fatalf("confidence %d out of range", payload.Confidence)
	}
	if payload.AudioSizeBytes != len(pcm) {
		t.Fatalf("expected %d processed bytes, got %d", len(pcm), payload.AudioSizeBytes)
	}
	if payload.FramesAnalyzed != 50 {
		t.Fatalf("expected 50 frames, got %d", payload.FramesAnalyzed)
	}
}

func TestAnalyzeRejectsMisalignedPCM(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/analyze", "application/octet-stream", bytes.NewReader([]byte{0x01, 0x02, 0x03}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnalyzeWAVUpload(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "tone.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	samples := toneSamples(200, 8000, 8000)
	buf := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 16000}}
	buf.Data = make([]int, len(samples))
	for i, s := range samples {
		buf.Data[i] = int(s)
	}
	enc := wav.NewEncoder(file, 16000, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	file.Close()

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	resp, err := http.Post(srv.URL+"/v1/analyze", "audio/wav", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var payload analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.FramesAnalyzed != 25 {
		t.Fatalf("expected 25 frames from 0.5s wav, got %d", payload.FramesAnalyzed)
	}
}

func TestHistoryEphemeralStoreIsEmpty(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/streams/whatever/history")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		StreamID string `json:"stream_id"`
		Scores   []any  `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(payload.Scores) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(payload.Scores))
	}
}
