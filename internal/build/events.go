package build

import (
	"context"
	"fmt"
	"strings"
)

// Request is everything an ImageBuilder needs to produce one image.
type Request struct {
	Function   string
	Tag        string
	ContextDir string
	Dockerfile string
	BuildArgs  map[string]string
}

// Event is one progress event of an image build.
type Event struct {
	ID       string
	Stream   string
	Status   string
	Progress string
	// Error aborts the build when set.
	Error string
	// ImageID is set on the terminal success event.
	ImageID string
}

// Events is a finite stream of build events. Next returns io.EOF after the
// last event.
type Events interface {
	Next() (Event, error)
	Close() error
}

// ImageBuilder submits a build context to an image build service.
type ImageBuilder interface {
	BuildImage(ctx context.Context, req Request) (Events, error)
}

// Line renders an event as a single human-readable line, or "" when the event
// carries nothing worth showing.
func (e Event) Line() string {
	if s := strings.TrimRight(e.Stream, "\r\n"); strings.TrimSpace(s) != "" {
		return s
	}
	status := strings.TrimSpace(e.Status)
	if status == "" {
		if e.ImageID != "" {
			return fmt.Sprintf("built %s", e.ImageID)
		}
		return ""
	}
	parts := make([]string, 0, 3)
	if e.ID != "" {
		parts = append(parts, e.ID+":")
	}
	parts = append(parts, status)
	if p := strings.TrimSpace(e.Progress); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
