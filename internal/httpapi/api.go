package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/config"
	"github.com/resonlabs/reson-core/internal/scorestore"
	"github.com/resonlabs/reson-core/internal/stream"
)

// maxAnalyzeBytes bounds one bulk upload (60s of 16 kHz mono PCM is
// under 2 MiB; WAV headers add a little).
const maxAnalyzeBytes = 16 << 20

// API serves the REST and websocket surface over the stream registry.
type API struct {
	cfg      config.Config
	registry *stream.Registry
	store    *scorestore.Store
	log      *slog.Logger
}

func New(cfg config.Config, registry *stream.Registry, store *scorestore.Store, log *slog.Logger) *API {
	return &API{
		cfg:      cfg,
		registry: registry,
		store:    store,
		log:      log.With(slog.String("component", "http-api")),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", a.handleAnalyze)
	mux.HandleFunc("GET /v1/streams", a.handleListStreams)
	mux.HandleFunc("GET /v1/streams/{id}/confidence", a.handleConfidence)
	mux.HandleFunc("GET /v1/streams/{id}/history", a.handleHistory)
	mux.HandleFunc("GET /ws/audio", a.handleWebsocket)
	return mux
}

type analyzeResponse struct {
	StreamID       string    `json:"stream_id"`
	Confidence     int       `json:"confidence"`
	Phase          int       `json:"phase"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessedAudio []byte    `json:"processed_audio"`
	AudioSizeBytes int       `json:"audio_size_bytes"`
	FramesAnalyzed int       `json:"frames_analyzed"`
}

// handleAnalyze scores one uploaded recording in a single pass. The body
// is either a WAV file or raw little-endian mono int16 PCM at the
// configured sample rate.
func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAnalyzeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxAnalyzeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "audio payload too large")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio payload")
		return
	}

	pcm := body
	if isWAV(body) {
		pcm, err = decodeWAV(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to decode wav payload")
			return
		}
	}

	result, err := a.registry.AnalyzeBuffer(r.Context(), pcm)
	switch {
	case errors.Is(err, audio.ErrMalformedInput):
		writeError(w, http.StatusBadRequest, "audio payload is not aligned to int16 samples")
		return
	case errors.Is(err, stream.ErrCapacity):
		writeError(w, http.StatusTooManyRequests, "concurrent stream limit reached")
		return
	case err != nil:
		a.log.Error("bulk analysis failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	if a.store != nil {
		rec := scorestore.Record{StreamID: id, Score: result.Score, Phase: a.cfg.Confidence.Phase, Created: now}
		if err := a.store.Append(r.Context(), rec); err != nil {
			a.log.Warn("failed to persist bulk score", slog.String("error", err.Error()))
		}
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		StreamID:       id,
		Confidence:     result.Score,
		Phase:          a.cfg.Confidence.Phase,
		Timestamp:      now,
		ProcessedAudio: result.Processed,
		AudioSizeBytes: len(result.Processed),
		FramesAnalyzed: result.Frames,
	})
}

func (a *API) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	ids := a.registry.ActiveIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_streams": ids,
		"max_concurrent": a.cfg.Streams.MaxConcurrent,
	})
}

func (a *API) handleConfidence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := a.registry.Latest(id)
	if errors.Is(err, stream.ErrUnknownStream) {
		writeError(w, http.StatusNotFound, "unknown stream")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	records, err := a.store.History(r.Context(), id, 500)
	if err != nil {
		a.log.Error("history query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	type entry struct {
		Score   int       `json:"confidence"`
		Phase   int       `json:"phase"`
		Created time.Time `json:"timestamp"`
	}
	entries := make([]entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, entry{Score: rec.Score, Phase: rec.Phase, Created: rec.Created})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id": id,
		"scores":    entries,
	})
}

func isWAV(body []byte) bool {
	return len(body) >= 12 && bytes.Equal(body[0:4], []byte("RIFF")) && bytes.Equal(body[8:12], []byte("WAVE"))
}

func decodeWAV(body []byte) ([]byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(body))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return audio.EncodeSamples(samples), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
