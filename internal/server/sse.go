package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter пишет кадры Server-Sent Events и сбрасывает буфер после каждого
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter настраивает заголовки потока. Возвращает ошибку, если
// ResponseWriter не умеет Flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &sseWriter{w: w, flusher: flusher}, nil
}

// Send сериализует payload и отправляет один кадр data:
func (s *sseWriter) Send(payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sse frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
