package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fnworker/internal/model"
	"github.com/seantiz/fnworker/internal/store"
)

func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for logs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// A finished invocation has nothing left to stream; use the history route.
	if model.Terminal(inv.Status) {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe on a topic closed since the status check returns a closed
	// channel, so the loop below exits at once.
	ch, unsub := s.bridge.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSELine(w, line); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// logHistoryLine is a single log line in the history response.
type logHistoryLine struct {
	Seq       int    `json:"seq"`
	Stream    string `json:"stream"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// logHistoryResponse is the JSON response for GET /v1/invocations/{id}/logs/history.
type logHistoryResponse struct {
	InvocationID string           `json:"invocation_id"`
	Lines        []logHistoryLine `json:"lines"`
}

func (s *Server) handleGetLogHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for log history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	logLines, err := s.store.GetLogLines(r.Context(), id)
	if err != nil {
		s.logger.Error("get log lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
		return
	}

	lines := make([]logHistoryLine, len(logLines))
	for i, l := range logLines {
		lines[i] = logHistoryLine{
			Seq:       l.Seq,
			Stream:    l.Stream,
			Line:      l.Line,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, logHistoryResponse{
		InvocationID: id,
		Lines:        lines,
	})
}

// writeSSELine writes a log line as an SSE event named after its stream.
// Embedded newlines become separate "data:" fields of the same event.
func writeSSELine(w http.ResponseWriter, line model.LogLine) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", line.Stream); err != nil {
		return err
	}
	for seg := range strings.SplitSeq(line.Line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
