// Package stream decodes the generation service's newline-framed event stream.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"appgen/internal/progress"
)

// FramePrefix marks a line that carries one event.
const FramePrefix = "data: "

var (
	// ErrNotFrame is returned by ParseFrame for lines without FramePrefix.
	ErrNotFrame = errors.New("not an event frame")
	// ErrMalformed is returned by ParseFrame when the payload is not a valid event.
	ErrMalformed = errors.New("malformed event frame")
)

// Event is one decoded status event from the generation job.
// Optional numeric fields are nil when the frame did not carry them.
type Event struct {
	Status  progress.Status
	Stage   progress.Stage
	Message string

	ArtifactPayload   string // base64 text; empty when absent
	ArtifactItemCount *int

	PreviewPath      string
	PreviewToken     string
	PreviewExpiresAt *float64 // seconds since epoch

	ErrorCount *int
	Iteration  *int
}

// Update projects the event onto the fields the stage machine tracks.
func (e Event) Update() progress.Update {
	return progress.Update{
		Status:     e.Status,
		Stage:      e.Stage,
		Message:    e.Message,
		ErrorCount: e.ErrorCount,
		Iteration:  e.Iteration,
	}
}

// HasArtifact reports whether a completed event carries an archive payload.
func (e Event) HasArtifact() bool {
	return e.Status == progress.StatusCompleted && e.ArtifactPayload != ""
}

// HasPreview reports whether a completed event carries preview metadata.
func (e Event) HasPreview() bool {
	return e.Status == progress.StatusCompleted && e.PreviewPath != ""
}

// ExpiresAt converts PreviewExpiresAt to a time. The zero time means absent.
func (e Event) ExpiresAt() time.Time {
	if e.PreviewExpiresAt == nil {
		return time.Time{}
	}
	sec, frac := math.Modf(*e.PreviewExpiresAt)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// wireEvent mirrors the JSON object the service sends. The service names the
// archive fields zip_data/file_count/preview_url; the generic names are
// accepted when those are missing.
type wireEvent struct {
	Status  string `json:"status"`
	Stage   string `json:"stage"`
	Message string `json:"message"`

	ZipData           *string `json:"zip_data"`
	ArtifactPayload   *string `json:"artifact_payload"`
	FileCount         *int    `json:"file_count"`
	ArtifactItemCount *int    `json:"artifact_item_count"`

	PreviewURL       *string  `json:"preview_url"`
	PreviewPath      *string  `json:"preview_path"`
	PreviewToken     string   `json:"preview_token"`
	PreviewExpiresAt *float64 `json:"preview_expires_at"`

	ErrorCount *int `json:"error_count"`
	Iteration  *int `json:"iteration"`
}

func (w wireEvent) event() (Event, error) {
	status := progress.Status(w.Status)
	if !status.Valid() {
		return Event{}, fmt.Errorf("%w: unknown status %q", ErrMalformed, w.Status)
	}
	ev := Event{
		Status:            status,
		Stage:             progress.ParseStage(w.Stage),
		Message:           w.Message,
		ArtifactItemCount: firstInt(w.FileCount, w.ArtifactItemCount),
		PreviewToken:      w.PreviewToken,
		PreviewExpiresAt:  w.PreviewExpiresAt,
		ErrorCount:        w.ErrorCount,
		Iteration:         w.Iteration,
	}
	if s := firstString(w.ZipData, w.ArtifactPayload); s != nil {
		ev.ArtifactPayload = *s
	}
	if s := firstString(w.PreviewURL, w.PreviewPath); s != nil {
		ev.PreviewPath = *s
	}
	if status == progress.StatusError {
		ev.ArtifactPayload = ""
		ev.ArtifactItemCount = nil
		ev.PreviewPath = ""
		ev.PreviewToken = ""
		ev.PreviewExpiresAt = nil
	}
	return ev, nil
}

// ParseFrame parses one complete line. A trailing carriage return is ignored.
func ParseFrame(line string) (Event, error) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, FramePrefix) {
		return Event{}, ErrNotFrame
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(line[len(FramePrefix):]), &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return w.event()
}

func firstString(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstInt(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
