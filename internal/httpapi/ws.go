package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/features"
	"github.com/resonlabs/reson-core/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Streams carry no credentials and the runtime has no auth layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsScoreMessage struct {
	Type      string               `json:"type"`
	StreamID  string               `json:"stream_id"`
	Score     int                  `json:"confidence"`
	Features  *features.FeatureSet `json:"features,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

type wsErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsSink pushes worker output back down the socket: processed audio as
// binary messages, score updates as JSON text. Gorilla connections allow
// one concurrent writer, so every write goes through the mutex.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) OnProcessedFrame(_ string, _ uint64, pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *wsSink) OnScore(streamID string, score int, fs *features.FeatureSet, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteJSON(wsScoreMessage{
		Type:      "confidence",
		StreamID:  streamID,
		Score:     score,
		Features:  fs,
		Timestamp: at.UTC(),
	})
}

func (s *wsSink) writeError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteJSON(wsErrorMessage{Type: "error", Error: message})
}

// handleWebsocket runs one full-duplex audio session. Each connection
// owns exactly one stream; the stream is torn down when the socket
// closes, whichever side closes it.
func (a *API) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	sink := &wsSink{conn: conn}

	if err := a.registry.Open(r.Context(), id, sink); err != nil {
		if errors.Is(err, stream.ErrCapacity) {
			sink.writeError("concurrent stream limit reached")
		} else {
			a.log.Warn("failed to open stream", slog.String("error", err.Error()))
			sink.writeError("failed to open stream")
		}
		return
	}
	defer func() {
		if err := a.registry.Close(id); err != nil && !errors.Is(err, stream.ErrUnknownStream) {
			a.log.Warn("failed to close stream",
				slog.String("stream_id", id), slog.String("error", err.Error()))
		}
	}()

	a.log.Info("websocket stream opened", slog.String("stream_id", id))
	sink.mu.Lock()
	err = conn.WriteJSON(map[string]string{"type": "ready", "stream_id": id})
	sink.mu.Unlock()
	if err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			// Text frames are ignored; the uplink is audio only.
			continue
		}
		if err := a.registry.PushChunk(id, data); err != nil {
			if errors.Is(err, audio.ErrMalformedInput) {
				sink.writeError("audio chunk is not aligned to int16 samples")
				continue
			}
			a.log.Warn("failed to ingest websocket chunk",
				slog.String("stream_id", id), slog.String("error", err.Error()))
			return
		}
	}
}
