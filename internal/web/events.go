package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const keepAliveEvery = 25 * time.Second

// handleEvents streams the session view as server-sent events: one "session"
// event immediately, then one per change. Intermediate states may be skipped
// when the client reads slowly; the last one is always delivered.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	rc := http.NewResponseController(w)
	// The server's write timeout would cut the stream otherwise.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	updates, cancel := sess.Subscribe()
	defer cancel()

	if err := writeEvent(w, rc, newSessionView(sess.ID, sess.Snapshot())); err != nil {
		return
	}

	ticker := time.NewTicker(keepAliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, rc, newSessionView(sess.ID, st)); err != nil {
				s.logger.Debug("sse write failed", "session", sess.ID, "err", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, view *sessionView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
		return err
	}
	return rc.Flush()
}
