package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

// tailers tracks connected SSE subscribers.
type tailers struct {
	mu       sync.Mutex
	clients  map[*tailClient]bool
	sequence atomic.Uint64
}

// tailClient is one SSE subscriber. Each has its own cursor so a slow
// client never loses records still held by the buffer.
type tailClient struct {
	stream   string
	category receiver.Category
	cursor   time.Time
	flusher  http.Flusher
	writer   http.ResponseWriter
}

func newTailers() *tailers {
	return &tailers{clients: make(map[*tailClient]bool)}
}

func (t *tailers) add(c *tailClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c] = true
}

func (t *tailers) remove(c *tailClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, c)
}

func (t *tailers) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// tailRecords streams records as server-sent events: one snapshot of what
// is buffered after since, then a batch per interval whenever new records
// arrived.
func (s *Server) tailRecords(w http.ResponseWriter, r *http.Request) {
	ctrl, cat, ok := s.target(w, r)
	if !ok {
		return
	}

	params, err := bindRecordParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &tailClient{
		stream:   ctrl.Name(),
		category: cat,
		flusher:  flusher,
		writer:   w,
	}
	if params.Since != nil {
		client.cursor = *params.Since
	}

	s.tails.add(client)
	defer s.tails.remove(client)

	s.logger.Info("tail client connected",
		zap.String("stream", client.stream),
		zap.Stringer("category", cat),
		zap.String("remote_addr", r.RemoteAddr),
	)

	if err := s.sendBatch(ctrl, client, "snapshot", true); err != nil {
		s.logger.Error("failed to send snapshot", zap.Error(err))
		return
	}

	ticker := time.NewTicker(s.config.TailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("tail client disconnected", zap.String("stream", client.stream))
			return
		case <-ticker.C:
			if err := s.sendBatch(ctrl, client, "batch", false); err != nil {
				s.logger.Debug("failed to write to tail client", zap.Error(err))
				return
			}
		}
	}
}

// sendBatch writes the records after the client's cursor and advances it.
// Empty batches are skipped unless always is set.
func (s *Server) sendBatch(ctrl *receiver.Controller, c *tailClient, eventType string, always bool) error {
	entries, err := ctrl.Query(c.category, receiver.Since(c.cursor))
	if err != nil {
		return err
	}
	if len(entries) == 0 && !always {
		return nil
	}
	if n := len(entries); n > 0 {
		c.cursor = entries[n-1].Timestamp
	}

	data, err := s.formatEvent(eventType, newRecords(c.stream, c.category, entries))
	if err != nil {
		return err
	}
	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (s *Server) formatEvent(eventType string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	seq := s.tails.sequence.Add(1)
	event := fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)
	return []byte(event), nil
}
