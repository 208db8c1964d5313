// Package stream renders batch events for callers: as a single aggregated
// report, as Server-Sent Events, or as newline-delimited JSON.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

// ErrIncomplete is returned when the event sequence ends without a complete
// event.
var ErrIncomplete = errors.New("stream ended before completion")

// Encode returns the event as single-line JSON.
func Encode(ev models.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	return data, nil
}

// Collect drains events and returns the report carried by the complete event.
func Collect(events <-chan models.Event) (*models.Report, error) {
	var report *models.Report
	for ev := range events {
		if ev.Type == models.EventComplete {
			report = ev.Report
		}
	}
	if report == nil {
		return nil, ErrIncomplete
	}
	return report, nil
}

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteSSE forwards each event as a "data:" frame until events is closed and
// flushes after every frame when w supports it. A batch stream always ends
// with its complete event, so the writer never stops ahead of it.
func WriteSSE(w io.Writer, events <-chan models.Event) error {
	flusher, _ := w.(http.Flusher)

	for ev := range events {
		data, err := Encode(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

// WriteLines writes one JSON event per line.
func WriteLines(w io.Writer, events <-chan models.Event) error {
	bw := bufio.NewWriter(w)
	for ev := range events {
		data, err := Encode(ev)
		if err != nil {
			return err
		}
		bw.Write(data)
		bw.WriteByte('\n')
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	return nil
}
