package buildkit

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/moby/buildkit/client"
	"github.com/moby/buildkit/exporter/containerimage/exptypes"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/example/fnstack/internal/build"
)

func TestCollectWorkerPlatformsDeduplicates(t *testing.T) {
	workers := []*client.WorkerInfo{
		{Platforms: []ocispecs.Platform{{OS: "linux", Architecture: "amd64"}, {OS: "linux", Architecture: "arm64"}}},
		{Platforms: []ocispecs.Platform{{OS: "linux", Architecture: "amd64"}, {OS: "", Architecture: "386"}}},
		nil,
	}
	got := collectWorkerPlatforms(workers)
	if len(got) != 2 || got[0] != "linux/amd64" || got[1] != "linux/arm64" {
		t.Fatalf("unexpected platforms: %v", got)
	}
}

func TestDetectBuilderPlatformsUsesWorkers(t *testing.T) {
	workers := []*client.WorkerInfo{{Platforms: []ocispecs.Platform{{OS: "linux", Architecture: "amd64"}}}}
	got, err := detectBuilderPlatforms(context.Background(), &fakeWorkerLister{workers: workers})
	if err != nil {
		t.Fatalf("detectBuilderPlatforms returned error: %v", err)
	}
	if len(got) != 1 || got[0] != "linux/amd64" {
		t.Fatalf("unexpected platforms: %v", got)
	}
}

func TestSelectDefaultBuilderPlatform(t *testing.T) {
	if got := selectDefaultBuilderPlatform([]string{"linux/arm64", "linux/amd64"}, "linux/amd64"); got != "linux/amd64" {
		t.Fatalf("expected the preferred platform, got %s", got)
	}
	if got := selectDefaultBuilderPlatform([]string{"linux/s390x"}, "linux/amd64"); got != "linux/s390x" {
		t.Fatalf("expected the first worker platform, got %s", got)
	}
	if got := selectDefaultBuilderPlatform(nil, "linux/amd64"); got != "linux/amd64" {
		t.Fatalf("expected the preferred platform without workers, got %s", got)
	}
}

func TestDefaultPlatformIsLinux(t *testing.T) {
	if got := defaultPlatform(); !strings.HasPrefix(got, "linux/") {
		t.Fatalf("expected a linux platform, got %s", got)
	}
}

func TestImageIDPrefersConfigDigest(t *testing.T) {
	resp := map[string]string{
		exptypes.ExporterImageDigestKey:       "sha256:manifest",
		exptypes.ExporterImageConfigDigestKey: "sha256:config",
	}
	if got := imageID(resp); got != "sha256:config" {
		t.Fatalf("expected config digest, got %s", got)
	}
	delete(resp, exptypes.ExporterImageConfigDigestKey)
	if got := imageID(resp); got != "sha256:manifest" {
		t.Fatalf("expected manifest digest fallback, got %s", got)
	}
}

func TestSolveOptCarriesBuildArgsAndTag(t *testing.T) {
	b := New(Options{Addr: "unix:///nonexistent.sock"})
	opt := b.solveOpt(build.Request{
		Tag:        "demo-a",
		ContextDir: "/tmp/ctx",
		BuildArgs:  map[string]string{"PROVIDER": "aws"},
	}, "linux/amd64", nil)
	if opt.Frontend != "dockerfile.v0" || opt.FrontendAttrs["filename"] != "Dockerfile" {
		t.Fatalf("unexpected frontend: %s %v", opt.Frontend, opt.FrontendAttrs)
	}
	if opt.FrontendAttrs["build-arg:PROVIDER"] != "aws" || opt.FrontendAttrs["platform"] != "linux/amd64" {
		t.Fatalf("unexpected frontend attrs: %v", opt.FrontendAttrs)
	}
	if opt.LocalDirs["context"] != "/tmp/ctx" || opt.LocalDirs["dockerfile"] != "/tmp/ctx" {
		t.Fatalf("unexpected local dirs: %v", opt.LocalDirs)
	}
	if len(opt.Exports) != 1 || opt.Exports[0].Type != client.ExporterDocker || opt.Exports[0].Attrs["name"] != "demo-a" {
		t.Fatalf("unexpected exports: %+v", opt.Exports)
	}
}

func TestStatusTranslatorReportsEachTransitionOnce(t *testing.T) {
	now := time.Now()
	tr := newStatusTranslator()
	started := &client.SolveStatus{Vertexes: []*client.Vertex{{Digest: "sha256:a", Name: "RUN make", Started: &now}}}
	if evs := tr.translate(started); len(evs) != 1 || evs[0].Stream != "[+] RUN make" {
		t.Fatalf("unexpected start events: %+v", evs)
	}
	if evs := tr.translate(started); len(evs) != 0 {
		t.Fatalf("expected a repeated start to be ignored, got %+v", evs)
	}
	logs := &client.SolveStatus{Logs: []*client.VertexLog{{Vertex: "sha256:a", Data: []byte("compiling\n\nlinking\n")}}}
	if evs := tr.translate(logs); len(evs) != 2 || evs[0].Stream != "compiling" || evs[1].Stream != "linking" {
		t.Fatalf("unexpected log events: %+v", evs)
	}
	done := &client.SolveStatus{Vertexes: []*client.Vertex{
		{Digest: "sha256:a", Name: "RUN make", Started: &now, Completed: &now},
		{Digest: "sha256:b", Name: "COPY . .", Cached: true},
	}}
	evs := tr.translate(done)
	if len(evs) != 2 || evs[0].Stream != "DONE RUN make" || evs[1].Stream != "CACHED COPY . ." {
		t.Fatalf("unexpected completion events: %+v", evs)
	}
	if evs := tr.translate(done); len(evs) != 0 {
		t.Fatalf("expected completed steps to stay quiet, got %+v", evs)
	}
}

func TestSolveStreamEndsWithImageID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSolveStream(ctx, cancel)
	go s.run(func(ch chan *client.SolveStatus) (string, error) {
		now := time.Now()
		ch <- &client.SolveStatus{Vertexes: []*client.Vertex{{Digest: "sha256:a", Name: "FROM base", Completed: &now}}}
		close(ch)
		return "sha256:abc", nil
	})
	var got []build.Event
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Stream != "DONE FROM base" || got[1].ImageID != "sha256:abc" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestSolveStreamReturnsSolveError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSolveStream(ctx, cancel)
	boom := errors.New("failed to solve: exit code 1")
	go s.run(func(ch chan *client.SolveStatus) (string, error) {
		close(ch)
		return "", boom
	})
	if _, err := s.Next(); !errors.Is(err, boom) {
		t.Fatalf("expected the solve error, got %v", err)
	}
}

func TestBuildImageRequiresLoader(t *testing.T) {
	b := New(Options{Addr: "unix:///nonexistent.sock"})
	if _, err := b.BuildImage(context.Background(), build.Request{ContextDir: t.TempDir()}); err == nil {
		t.Fatalf("expected an error without a loader")
	}
}

type fakeWorkerLister struct {
	workers []*client.WorkerInfo
	err     error
}

func (f *fakeWorkerLister) ListWorkers(context.Context, ...client.ListWorkersOption) ([]*client.WorkerInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.workers, nil
}
