package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/fnstack/internal/build"
	"github.com/example/fnstack/internal/engine"
	"github.com/example/fnstack/internal/stack"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

type fakeRuntime struct {
	mu sync.Mutex

	networkErr   error
	volumeErr    error
	resolveErr   error
	startErr     error
	removeNetErr error
	// neverStart leaves containers pending so the start timeout fires.
	neverStart bool

	specs    []engine.ContainerSpec
	stopped  []string
	networks []string
	volumes  []string
	removed  []string
	seq      int
}

func (f *fakeRuntime) CreateNetwork(ctx context.Context, name, stackName, session string) (engine.Network, error) {
	if f.networkErr != nil {
		return engine.Network{}, f.networkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, name)
	return engine.Network{ID: "net-" + name, Name: name}, nil
}

func (f *fakeRuntime) CreateVolume(ctx context.Context, name, stackName, session string) (engine.Volume, error) {
	if f.volumeErr != nil {
		return engine.Volume{}, f.volumeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, name)
	return engine.Volume{Name: name}, nil
}

func (f *fakeRuntime) NetworkName(ctx context.Context, n engine.Network) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return n.Name, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, spec engine.ContainerSpec) (*engine.Container, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	f.seq++
	id := fmt.Sprintf("ctr-%d", f.seq)
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	ctr := engine.NewContainer(id, spec.Image, spec.Function)
	if !f.neverStart {
		go ctr.MarkStarted()
	}
	return ctr, nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, c *engine.Container) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, c.Function)
	c.MarkExited(engine.Exit{StatusCode: 137})
	c.MarkOutputDone()
	return nil
}

func (f *fakeRuntime) RemoveNetwork(ctx context.Context, n engine.Network) error {
	if f.removeNetErr != nil {
		return f.removeNetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, n.Name)
	return nil
}

func (f *fakeRuntime) RemoveVolume(ctx context.Context, v engine.Volume) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, v.Name)
	return nil
}

func (f *fakeRuntime) specFor(function string) (engine.ContainerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.specs {
		if s.Function == function {
			return s, true
		}
	}
	return engine.ContainerSpec{}, false
}

func testAllocator(t *testing.T) *PortAllocator {
	t.Helper()
	a, err := NewPortAllocator(40000, 40100)
	if err != nil {
		t.Fatalf("NewPortAllocator: %v", err)
	}
	a.isFree = nil
	return a
}

func images(names ...string) []build.Image {
	out := make([]build.Image, 0, len(names))
	for i, name := range names {
		out = append(out, build.Image{
			ID:       fmt.Sprintf("sha256:%064d", i+1),
			Tag:      "shop-" + name,
			Function: stack.Function{Name: name},
		})
	}
	return out
}

func TestProvisionCreatesNamedResources(t *testing.T) {
	rt := &fakeRuntime{}
	rc, err := Provision(context.Background(), nil, rt, "shop", "s1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if rc.Network == nil || rc.Network.Name != "shop-net" {
		t.Fatalf("unexpected network: %+v", rc.Network)
	}
	if rc.Volume == nil || rc.Volume.Name != "shop-vol" {
		t.Fatalf("unexpected volume: %+v", rc.Volume)
	}
}

func TestProvisionKeepsPartialResources(t *testing.T) {
	rt := &fakeRuntime{volumeErr: errors.New("disk full")}
	rc, err := Provision(context.Background(), nil, rt, "shop", "s1")
	if err == nil {
		t.Fatalf("expected provisioning error")
	}
	if rc == nil || rc.Network == nil {
		t.Fatalf("expected the created network to be returned for teardown")
	}
	if err := Teardown(context.Background(), rt, rc); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if len(rt.removed) != 1 || rt.removed[0] != "shop-net" {
		t.Fatalf("expected network removal, got %v", rt.removed)
	}
}

func TestRunAllStartsEveryFunction(t *testing.T) {
	rt := &fakeRuntime{}
	rc, err := Provision(context.Background(), nil, rt, "shop", "s1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	r := &Runner{Runtime: rt, Ports: testAllocator(t), LogRoot: t.TempDir(), Log: logr.Discard()}
	subs := stack.Subscriptions{"x": {"http://b:9001"}}
	if err := r.RunAll(context.Background(), nil, rc, images("a", "b", "c"), subs); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if got := rc.Functions(); strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("unexpected functions: %v", got)
	}
	seen := map[int]bool{}
	for fn, port := range rc.Ports {
		if seen[port] {
			t.Fatalf("port %d handed out twice (function %s)", port, fn)
		}
		seen[port] = true
	}
	spec, ok := rt.specFor("b")
	if !ok {
		t.Fatalf("no container spec recorded for b")
	}
	if spec.Network != "shop-net" || spec.Alias != "b" {
		t.Fatalf("unexpected network wiring: %q alias %q", spec.Network, spec.Alias)
	}
	if spec.Volume != "shop-vol" || spec.MountPath != VolumeMountPath {
		t.Fatalf("unexpected volume wiring: %q at %q", spec.Volume, spec.MountPath)
	}
	if spec.ContainerPort != GatewayPort {
		t.Fatalf("expected container port %d, got %d", GatewayPort, spec.ContainerPort)
	}
	var raw string
	for _, kv := range spec.Env {
		if v, ok := strings.CutPrefix(kv, EnvSubscriptions+"="); ok {
			raw = v
		}
	}
	var decoded map[string][]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("subscriptions env is not JSON: %q", raw)
	}
	if len(decoded["x"]) != 1 || decoded["x"][0] != "http://b:9001" {
		t.Fatalf("unexpected subscriptions: %v", decoded)
	}
	for _, fn := range []string{"a", "b", "c"} {
		if _, err := os.Stat(LogPath(r.LogRoot, fn)); err != nil {
			t.Fatalf("expected log file for %s: %v", fn, err)
		}
	}
}

func TestRunHonoursFixedPort(t *testing.T) {
	rt := &fakeRuntime{}
	rc := newRunContext("shop", "s1")
	rc.Network = &engine.Network{Name: "shop-net"}
	r := &Runner{Runtime: rt, Ports: testAllocator(t), LogRoot: t.TempDir(), Log: logr.Discard()}
	img := images("a")[0]
	img.Function.Port = 8123
	inst, err := r.Run(context.Background(), rc, img, stack.Subscriptions{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inst.Port != 8123 {
		t.Fatalf("expected fixed port 8123, got %d", inst.Port)
	}
	if _, err := r.Run(context.Background(), rc, img, stack.Subscriptions{}, nil); err == nil {
		t.Fatalf("expected a second claim of port 8123 to fail")
	} else {
		var pae *PortAllocationError
		if !errors.As(err, &pae) {
			t.Fatalf("expected PortAllocationError, got %T", err)
		}
	}
}

func TestRunTimesOutNamingImage(t *testing.T) {
	rt := &fakeRuntime{neverStart: true}
	rc := newRunContext("shop", "s1")
	rc.Network = &engine.Network{Name: "shop-net"}
	ports := testAllocator(t)
	r := &Runner{Runtime: rt, Ports: ports, LogRoot: t.TempDir(), Log: logr.Discard(), startTimeout: 20 * time.Millisecond}
	img := images("slow")[0]
	_, err := r.Run(context.Background(), rc, img, stack.Subscriptions{}, nil)
	var timeout *StartTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected StartTimeoutError, got %v", err)
	}
	if !strings.Contains(err.Error(), img.ID) {
		t.Fatalf("expected error to name image %s: %v", img.ID, err)
	}
	if len(rt.stopped) != 1 {
		t.Fatalf("expected the pending container to be removed, stopped=%v", rt.stopped)
	}
	if len(ports.claimed) != 0 {
		t.Fatalf("expected the port to be released, claimed=%v", ports.claimed)
	}
}

func TestRunFallsBackToDefaultNetwork(t *testing.T) {
	var mu sync.Mutex
	var warnings []string
	log := funcr.New(func(prefix, args string) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, args)
	}, funcr.Options{})

	rt := &fakeRuntime{resolveErr: errors.New("no such network")}
	rc := newRunContext("shop", "s1")
	rc.Network = &engine.Network{Name: "shop-net"}
	r := &Runner{Runtime: rt, Ports: testAllocator(t), LogRoot: t.TempDir(), Log: log}
	if _, err := r.Run(context.Background(), rc, images("a")[0], stack.Subscriptions{}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	spec, _ := rt.specFor("a")
	if spec.Network != engine.DefaultNetwork || spec.Alias != "" {
		t.Fatalf("expected default network without alias, got %q alias %q", spec.Network, spec.Alias)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "falling back") {
		t.Fatalf("expected one fallback warning, got %v", warnings)
	}
}

func TestRunAllCollectsFailuresAndKeepsSurvivors(t *testing.T) {
	rt := &fakeRuntime{}
	rc := newRunContext("shop", "s1")
	rc.Network = &engine.Network{Name: "shop-net"}
	ports := testAllocator(t)
	if err := ports.Claim("squatter", 7000); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	imgs := images("a", "b")
	imgs[1].Function.Port = 7000
	r := &Runner{Runtime: rt, Ports: ports, LogRoot: t.TempDir(), Log: logr.Discard()}
	err := r.RunAll(context.Background(), nil, rc, imgs, stack.Subscriptions{})
	if err == nil {
		t.Fatalf("expected RunAll to fail for b")
	}
	if !strings.Contains(err.Error(), "1 of 2") || !strings.Contains(err.Error(), "b") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rc.Functions(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected survivor a in the run context, got %v", got)
	}
}

func TestTeardownReleasesEverything(t *testing.T) {
	rt := &fakeRuntime{}
	rc, err := Provision(context.Background(), nil, rt, "shop", "s1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	ports := testAllocator(t)
	r := &Runner{Runtime: rt, Ports: ports, LogRoot: t.TempDir(), Log: logr.Discard()}
	if err := r.RunAll(context.Background(), nil, rc, images("a", "b"), stack.Subscriptions{}); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if err := Teardown(context.Background(), rt, rc); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if len(ports.claimed) != 0 {
		t.Fatalf("expected every port to be released, claimed=%v", ports.claimed)
	}
	if !rc.Empty() {
		t.Fatalf("expected an empty run context, got %+v", rc)
	}
	if len(rt.stopped) != 2 {
		t.Fatalf("expected two containers stopped, got %v", rt.stopped)
	}
	if strings.Join(rt.removed, ",") != "shop-net,shop-vol" {
		t.Fatalf("unexpected removals: %v", rt.removed)
	}
}

func TestTeardownContinuesPastFailures(t *testing.T) {
	rt := &fakeRuntime{removeNetErr: errors.New("network has active endpoints")}
	rc, err := Provision(context.Background(), nil, rt, "shop", "s1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	err = Teardown(context.Background(), rt, rc)
	var td *TeardownError
	if !errors.As(err, &td) {
		t.Fatalf("expected TeardownError, got %v", err)
	}
	if len(rt.removed) != 1 || rt.removed[0] != "shop-vol" {
		t.Fatalf("expected the volume to be removed despite the network failure, got %v", rt.removed)
	}
	if rc.Network == nil {
		t.Fatalf("expected the unremoved network to stay in the run context")
	}
}

func TestPortAllocatorConcurrentAllocations(t *testing.T) {
	a := testAllocator(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int]int{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, err := a.Allocate(fmt.Sprintf("fn-%d", i))
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			mu.Lock()
			seen[port]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	for port, n := range seen {
		if n != 1 {
			t.Fatalf("port %d handed out %d times", port, n)
		}
	}
}

func TestPortAllocatorExhaustion(t *testing.T) {
	a, err := NewPortAllocator(41000, 41001)
	if err != nil {
		t.Fatalf("NewPortAllocator: %v", err)
	}
	a.isFree = nil
	for i := 0; i < 2; i++ {
		if _, err := a.Allocate("fn"); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	_, err = a.Allocate("late")
	var pae *PortAllocationError
	if !errors.As(err, &pae) || pae.Function != "late" {
		t.Fatalf("expected PortAllocationError for late, got %v", err)
	}
	a.Release(41000)
	if port, err := a.Allocate("again"); err != nil || port != 41000 {
		t.Fatalf("expected released port 41000, got %d (%v)", port, err)
	}
}

func TestNewPortAllocatorRejectsBadRange(t *testing.T) {
	for _, r := range [][2]int{{0, 10}, {100, 50}, {1000, 70000}} {
		if _, err := NewPortAllocator(r[0], r[1]); err == nil {
			t.Fatalf("expected range %v to be rejected", r)
		}
	}
}

func TestWatchKeepsLogOpenUntilOutputDrains(t *testing.T) {
	root := t.TempDir()
	logFile, err := openLog(root, "a")
	if err != nil {
		t.Fatalf("openLog: %v", err)
	}
	r := &Runner{Log: logr.Discard(), outputDrain: time.Minute}
	ctr := engine.NewContainer("ctr-1", "sha256:abc", "a")
	done := make(chan struct{})
	go func() {
		r.watch(ctr, logFile)
		close(done)
	}()

	ctr.MarkExited(engine.Exit{StatusCode: 1})
	time.Sleep(50 * time.Millisecond)
	if _, err := logFile.WriteString("panic: last words\n"); err != nil {
		t.Fatalf("expected the log to stay writable after exit: %v", err)
	}
	select {
	case <-done:
		t.Fatalf("log closed before output drained")
	default:
	}
	ctr.MarkOutputDone()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not finish after output drained")
	}
	raw, err := os.ReadFile(LogPath(root, "a"))
	if err != nil || !strings.Contains(string(raw), "panic: last words") {
		t.Fatalf("expected the tail in the log, got %q (%v)", raw, err)
	}
}

func TestWatchClosesLogWhenOutputNeverDrains(t *testing.T) {
	root := t.TempDir()
	logFile, err := openLog(root, "a")
	if err != nil {
		t.Fatalf("openLog: %v", err)
	}
	r := &Runner{Log: logr.Discard(), outputDrain: 20 * time.Millisecond}
	ctr := engine.NewContainer("ctr-1", "sha256:abc", "a")
	ctr.MarkExited(engine.Exit{})
	r.watch(ctr, logFile)
	if _, err := logFile.WriteString("late"); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected the log closed after the drain bound, got %v", err)
	}
}
