package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/jsonmessage"
	archive "github.com/moby/go-archive"

	fnbuild "github.com/example/fnstack/internal/build"
)

// BuildImage archives the build context and submits it to the daemon. The
// returned stream yields one event per daemon progress message.
func (c *Client) BuildImage(ctx context.Context, req fnbuild.Request) (fnbuild.Events, error) {
	tar, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive build context %s: %w", req.ContextDir, err)
	}
	args := make(map[string]*string, len(req.BuildArgs))
	for k, v := range req.BuildArgs {
		v := v
		args[k] = &v
	}
	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	resp, err := c.api.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Dockerfile:  dockerfile,
		BuildArgs:   args,
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{LabelFunction: req.Function},
	})
	if err != nil {
		tar.Close()
		if IsUnreachable(err) {
			return nil, fmt.Errorf("%w: %v", fnbuild.ErrBuilderUnreachable, err)
		}
		return nil, fmt.Errorf("submit build: %w", err)
	}
	return newMessageStream(resp.Body, tar), nil
}

// LoadImage streams an image tarball into the daemon and waits for it to be
// imported.
func (c *Client) LoadImage(ctx context.Context, r io.Reader) error {
	resp, err := c.api.ImageLoad(ctx, r)
	if err != nil {
		return wrapDaemonErr("load image", err)
	}
	stream := newMessageStream(resp.Body, nil)
	defer stream.Close()
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Error != "" {
			return fmt.Errorf("load image: %s", ev.Error)
		}
	}
}

// messageStream decodes the daemon's JSON message stream.
type messageStream struct {
	body    io.ReadCloser
	context io.Closer
	dec     *json.Decoder
}

func newMessageStream(body io.ReadCloser, buildContext io.Closer) *messageStream {
	return &messageStream{body: body, context: buildContext, dec: json.NewDecoder(body)}
}

func (s *messageStream) Next() (fnbuild.Event, error) {
	var msg jsonmessage.JSONMessage
	if err := s.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return fnbuild.Event{}, io.EOF
		}
		return fnbuild.Event{}, fmt.Errorf("read build output: %w", err)
	}
	return eventFromMessage(msg), nil
}

func (s *messageStream) Close() error {
	err := s.body.Close()
	if s.context != nil {
		err = errors.Join(err, s.context.Close())
	}
	return err
}

type auxID struct {
	ID string `json:"ID"`
}

func eventFromMessage(msg jsonmessage.JSONMessage) fnbuild.Event {
	ev := fnbuild.Event{ID: msg.ID, Stream: msg.Stream, Status: msg.Status}
	if msg.Progress != nil {
		ev.Progress = msg.Progress.String()
	}
	switch {
	case msg.Error != nil && msg.Error.Message != "":
		ev.Error = msg.Error.Message
	case msg.ErrorMessage != "":
		ev.Error = msg.ErrorMessage
	}
	if msg.Aux != nil {
		var aux auxID
		if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.ID != "" {
			ev.ImageID = aux.ID
		}
	}
	return ev
}
