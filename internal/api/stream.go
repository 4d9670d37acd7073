package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// sse prepares w for Server-Sent Events and flushes the headers
func sse(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	return flusher, true
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event any) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// streamAlerts pushes coarse alert notices; clients re-fetch on each one
func (s *Server) streamAlerts(w http.ResponseWriter, r *http.Request) {
	sub := s.AlertHub.Subscribe()
	defer s.AlertHub.Unsubscribe(sub)

	flusher, ok := sse(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case notice := <-sub.C():
			if err := writeEvent(w, flusher, notice); err != nil {
				s.log(r).Debug("alert stream closed", zap.Error(err))
				return
			}
		}
	}
}

// streamVitals pushes live vitals of one patient. The last known event is
// replayed first when there is one.
func (s *Server) streamVitals(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r)
	if !ok {
		return
	}

	sub := s.VitalsHub.Subscribe(patientID)
	defer s.VitalsHub.Unsubscribe(patientID, sub)

	flusher, ok := sse(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event := <-sub.C():
			if err := writeEvent(w, flusher, event); err != nil {
				s.log(r).Debug("vitals stream closed",
					zap.Int64("patient_id", patientID),
					zap.Error(err),
				)
				return
			}
		}
	}
}
