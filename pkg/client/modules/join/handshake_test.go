package join

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-mclib/joinclient/internal/testlog"
	"github.com/go-mclib/joinclient/pkg/client"
	"github.com/go-mclib/joinclient/pkg/config"
	"github.com/go-mclib/joinclient/pkg/modfs"
	"github.com/go-mclib/joinclient/pkg/netdata"
	"github.com/go-mclib/joinclient/pkg/registry"
	"github.com/go-mclib/joinclient/pkg/status"
	"github.com/go-mclib/joinclient/pkg/transport"
	"github.com/rs/zerolog"
)

type fakeChannel struct {
	mu      sync.Mutex
	written []netdata.Outbound
	closes  int
}

func (f *fakeChannel) Write(msg netdata.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes > 0 {
		return transport.ErrClosed
	}
	f.written = append(f.written, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Written() []netdata.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]netdata.Outbound(nil), f.written...)
}

func (f *fakeChannel) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeChannel) joins() int {
	n := 0
	for _, m := range f.Written() {
		if _, ok := m.(netdata.Join); ok {
			n++
		}
	}
	return n
}

type fakeRegistry struct {
	mu         sync.Mutex
	installed  map[string]bool // lower id + ":" + version
	installs   []string
	installErr error
	// installID, when set, replaces the id read from the file name.
	installID string
}

func newFakeRegistry(present ...string) *fakeRegistry {
	r := &fakeRegistry{installed: make(map[string]bool)}
	for _, p := range present {
		r.installed[strings.ToLower(p)] = true
	}
	return r
}

func (r *fakeRegistry) Lookup(id, version string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed[strings.ToLower(id)+":"+version]
}

func (r *fakeRegistry) Install(path string) (registry.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installErr != nil {
		return registry.Descriptor{}, r.installErr
	}
	r.installs = append(r.installs, path)
	base := strings.TrimSuffix(filepath.Base(path), ".jar")
	id, version, _ := strings.Cut(base, "-")
	if r.installID != "" {
		id = r.installID
	}
	r.installed[strings.ToLower(id)+":"+version] = true
	return registry.Descriptor{ID: id, Version: version, Path: path}, nil
}

func (r *fakeRegistry) Uninstall(d registry.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.installed, strings.ToLower(d.ID)+":"+d.Version)
}

func (r *fakeRegistry) Installs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.installs...)
}

type harness struct {
	hs         *Handshake
	ch         *fakeChannel
	reg        *fakeRegistry
	installDir string
	scratch    *modfs.Scratch
	joined     chan *client.Server
}

func newHarness(t *testing.T, reg *fakeRegistry, logger zerolog.Logger, timeout, margin time.Duration) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		ch:         &fakeChannel{},
		reg:        reg,
		installDir: filepath.Join(dir, "modules"),
		scratch:    modfs.NewScratch(filepath.Join(dir, "scratch")),
		joined:     make(chan *client.Server, 1),
	}
	if err := os.MkdirAll(filepath.Join(dir, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}
	h.hs = NewHandshake(Options{
		Channel:    h.ch,
		Registry:   reg,
		InstallDir: h.installDir,
		Scratch:    h.scratch,
		Player:     config.Player{Name: "Alice", ViewDistance: 3, Color: 0x11223344},
		Status:     status.New(),
		Logger:     logger,
		Timeout:    timeout,
		Margin:     margin,
		OnJoined:   func(s *client.Server) { h.joined <- s },
	})
	t.Cleanup(h.hs.Stop)
	return h
}

func newTestHarness(t *testing.T, reg *fakeRegistry) *harness {
	return newHarness(t, reg, testlog.New(t), time.Minute, 0)
}

func (h *harness) send(msgs ...netdata.Inbound) {
	for _, m := range msgs {
		h.hs.HandleMessage(m)
	}
}

func serverInfo(mods ...string) netdata.ServerInfo {
	info := netdata.ServerInfo{GameName: "test", Version: "1", Time: 5000}
	for _, m := range mods {
		id, version, _ := strings.Cut(m, ":")
		info.Modules = append(info.Modules, netdata.ModuleInfo{ID: id, Version: version})
	}
	return info
}

func requireFailed(t *testing.T, h *harness, kind error) {
	t.Helper()
	js := h.hs.Status()
	if js.Status() != status.Failed {
		t.Fatalf("status = %s, want FAILED", js.Status())
	}
	if !errors.Is(js.Err(), kind) {
		t.Fatalf("error = %v, want kind %v", js.Err(), kind)
	}
	if h.ch.Closes() == 0 {
		t.Fatal("channel not closed on failure")
	}
}

func requireNoFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("%s contains %d entries, want none", dir, len(entries))
	}
}

func TestEmptyManifestJoinsImmediately(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())

	h.send(serverInfo())

	written := h.ch.Written()
	if len(written) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(written))
	}
	join, ok := written[0].(netdata.Join)
	if !ok {
		t.Fatalf("wrote %T, want Join", written[0])
	}
	if join.Name != "Alice" || join.ViewDistanceLevel != 3 || join.Color != 0x11223344 {
		t.Errorf("join = %+v", join)
	}
	js := h.hs.Status()
	if js.Status() != status.Pending || js.Activity() != "Finalizing join" {
		t.Fatalf("status = %s %q", js.Status(), js.Activity())
	}

	h.send(netdata.JoinComplete{ClientID: 42})
	if js.Status() != status.Complete {
		t.Fatalf("status = %s, want COMPLETE", js.Status())
	}
	select {
	case s := <-h.joined:
		if id, ok := s.ClientID(); !ok || id != 42 {
			t.Errorf("client id = %d, %v", id, ok)
		}
		if s.GameTime() < 5*time.Second {
			t.Errorf("game time = %v, want >= server time", s.GameTime())
		}
	default:
		t.Fatal("server handle not handed off")
	}
	if h.ch.Closes() != 0 {
		t.Error("channel closed after successful join")
	}
}

func TestSingleModuleDownload(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())

	h.send(serverInfo("foo:1.0"))
	written := h.ch.Written()
	if len(written) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(written))
	}
	if req, ok := written[0].(netdata.ModuleRequest); !ok || req.ID != "foo" {
		t.Fatalf("wrote %#v, want ModuleRequest(foo)", written[0])
	}
	if got := h.hs.Status().Activity(); got != "Requesting missing modules" {
		t.Errorf("activity = %q", got)
	}

	payload := bytes.Repeat([]byte{0xab}, 100)
	h.send(netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 100})
	if got := h.hs.Status().Activity(); !strings.HasPrefix(got, "Downloading foo:1.0 (100 B, 0 modules remain)") {
		t.Errorf("activity = %q", got)
	}

	h.send(netdata.ModuleData{Data: payload[:60]})
	if p := h.hs.Status().Progress(); p != 0.6 {
		t.Errorf("progress after 60 bytes = %v, want 0.6", p)
	}
	if h.ch.joins() != 0 {
		t.Fatal("join sent before module finished")
	}
	h.send(netdata.ModuleData{Data: payload[60:]})

	dst := filepath.Join(h.installDir, "foo-1.0.jar")
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("installed file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("installed %d bytes, want the 100 sent", len(got))
	}
	if installs := h.reg.Installs(); len(installs) != 1 || installs[0] != dst {
		t.Fatalf("registry installs = %v", installs)
	}
	if h.ch.joins() != 1 {
		t.Fatalf("joins sent = %d, want 1", h.ch.joins())
	}
	if len(h.hs.Missing()) != 0 {
		t.Errorf("missing = %v", h.hs.Missing())
	}
	if n := len(h.scratch.Pending()); n != 0 {
		t.Errorf("%d scratch files left behind", n)
	}

	h.send(netdata.JoinComplete{ClientID: 1})
	if s := h.hs.Status().Status(); s != status.Complete {
		t.Fatalf("status = %s, want COMPLETE", s)
	}
}

func TestManyModulesSendOneJoin(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry("core:2.0"))

	h.send(serverInfo("core:2.0", "Alpha:1.0", "beta:0.3", "gamma:1.0.0"))
	var requested []string
	for _, m := range h.ch.Written() {
		requested = append(requested, m.(netdata.ModuleRequest).ID)
	}
	if strings.Join(requested, ",") != "alpha,beta,gamma" {
		t.Fatalf("requested %v", requested)
	}

	mods := []netdata.ModuleHeader{
		{ID: "beta", Version: "0.3", Size: 10},
		{ID: "Alpha", Version: "1.0", Size: 7},
		{ID: "gamma", Version: "1.0.0", Size: 25},
	}
	for _, hdr := range mods {
		h.send(hdr)
		remaining := hdr.Size
		for remaining > 0 {
			n := min(remaining, 4)
			h.send(netdata.ModuleData{Data: make([]byte, n)})
			remaining -= n
		}
		if h.ch.joins() > 1 {
			t.Fatal("more than one join sent")
		}
	}

	if h.ch.joins() != 1 {
		t.Fatalf("joins = %d, want exactly 1", h.ch.joins())
	}
	if last := h.ch.Written()[len(h.ch.Written())-1]; last.Kind() != netdata.KindJoin {
		t.Errorf("last message = %s, want join after every module", last.Kind())
	}
	for _, name := range []string{"beta-0.3.jar", "Alpha-1.0.jar", "gamma-1.0.0.jar"} {
		if _, err := os.Stat(filepath.Join(h.installDir, name)); err != nil {
			t.Errorf("%s not installed: %v", name, err)
		}
	}
}

func TestHeaderErrorFails(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("foo:1.0"), netdata.ModuleHeader{ID: "foo", Version: "1.0", Error: "not found"})

	requireFailed(t, h, ErrTransferIntegrity)
	if msg := h.hs.Status().ErrorMessage(); !strings.Contains(msg, "Module download error: not found") {
		t.Errorf("error message = %q", msg)
	}
	requireNoFiles(t, h.installDir)
	if n := len(h.scratch.Pending()); n != 0 {
		t.Errorf("%d scratch files created", n)
	}
}

func TestUnexpectedModuleFails(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("foo:1.0"), netdata.ModuleHeader{ID: "bar", Version: "1.0", Size: 1})
	requireFailed(t, h, ErrProtocolViolation)
	if !strings.HasPrefix(h.hs.Status().ErrorMessage(), "Module download error") {
		t.Errorf("error message = %q", h.hs.Status().ErrorMessage())
	}
}

func TestHeaderMatchesCaseInsensitively(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("Foo:1.0"), netdata.ModuleHeader{ID: "FOO", Version: "1.0", Size: 1}, netdata.ModuleData{Data: []byte{1}})
	if s := h.hs.Status().Status(); s != status.Pending {
		t.Fatalf("status = %s: %v", s, h.hs.Status().Err())
	}
	if _, err := os.Stat(filepath.Join(h.installDir, "FOO-1.0.jar")); err != nil {
		t.Fatalf("module not installed under header id: %v", err)
	}
}

func TestSecondHeaderWhileDownloadingFails(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(
		serverInfo("foo:1.0", "bar:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 10},
		netdata.ModuleData{Data: make([]byte, 4)},
		netdata.ModuleHeader{ID: "bar", Version: "1.0", Size: 10},
	)
	requireFailed(t, h, ErrProtocolViolation)
	if n := len(h.scratch.Pending()); n != 0 {
		t.Errorf("partial download not discarded: %d scratch files", n)
	}
	requireNoFiles(t, h.installDir)
}

func TestRepeatedHeaderFails(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(
		serverInfo("foo:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 1},
		netdata.ModuleData{Data: []byte{1}},
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 1},
	)
	requireFailed(t, h, ErrProtocolViolation)
}

func TestOversizedDataNeverInstalls(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(
		serverInfo("foo:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 10},
		netdata.ModuleData{Data: make([]byte, 6)},
		netdata.ModuleData{Data: make([]byte, 6)},
	)
	requireFailed(t, h, ErrTransferIntegrity)
	if n := len(h.reg.Installs()); n != 0 {
		t.Fatalf("installed %d modules", n)
	}
	requireNoFiles(t, h.installDir)
	if h.ch.joins() != 0 {
		t.Fatal("join sent")
	}
}

func TestShortDataNeverInstalls(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(
		serverInfo("foo:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 10},
		netdata.ModuleData{Data: make([]byte, 9)},
	)
	if s := h.hs.Status().Status(); s != status.Pending {
		t.Fatalf("status = %s, want PENDING", s)
	}
	if n := len(h.reg.Installs()); n != 0 {
		t.Fatalf("installed %d modules", n)
	}
	requireNoFiles(t, h.installDir)
	if h.ch.joins() != 0 {
		t.Fatal("join sent")
	}
}

func TestDataWithoutHeaderFails(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("foo:1.0"), netdata.ModuleData{Data: []byte{1}})
	requireFailed(t, h, ErrProtocolViolation)
}

func TestPathTraversalRejected(t *testing.T) {
	tests := []struct {
		name    string
		id, ver string
	}{
		{"id climbs", "../../escape", "1.0"},
		{"version climbs", "foo", "1.0/../../../escape"},
		{"absolute id", "/tmp/escape", "1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness(t, newFakeRegistry())
			parent := filepath.Dir(h.installDir)
			before, _ := os.ReadDir(parent)

			h.send(
				serverInfo(tt.id+":"+tt.ver),
				netdata.ModuleHeader{ID: tt.id, Version: tt.ver, Size: 3},
				netdata.ModuleData{Data: []byte("bad")},
			)
			requireFailed(t, h, ErrTransferIntegrity)
			if !errors.Is(h.hs.Status().Err(), modfs.ErrOutsideRoot) {
				t.Errorf("error = %v, want ErrOutsideRoot cause", h.hs.Status().Err())
			}
			after, _ := os.ReadDir(parent)
			if len(after) != len(before) {
				t.Errorf("entries next to install dir changed: %d -> %d", len(before), len(after))
			}
			if n := len(h.reg.Installs()); n != 0 {
				t.Errorf("installed %d modules", n)
			}
		})
	}
}

func TestExistingDestinationRejected(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	if err := os.MkdirAll(h.installDir, 0o755); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(h.installDir, "foo-1.0.jar")
	if err := os.WriteFile(dst, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	h.send(
		serverInfo("foo:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 3},
		netdata.ModuleData{Data: []byte("new")},
	)
	requireFailed(t, h, ErrTransferIntegrity)
	if got, _ := os.ReadFile(dst); string(got) != "original" {
		t.Fatalf("existing module overwritten: %q", got)
	}
}

func TestInstallFailureAbortsJoin(t *testing.T) {
	reg := newFakeRegistry()
	reg.installErr = registry.ErrInvalidModule
	h := newTestHarness(t, reg)
	h.send(
		serverInfo("foo:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 2},
		netdata.ModuleData{Data: []byte{1, 2}},
	)
	requireFailed(t, h, ErrInstall)
	if !errors.Is(h.hs.Status().Err(), registry.ErrInvalidModule) {
		t.Errorf("cause lost: %v", h.hs.Status().Err())
	}
	if h.ch.joins() != 0 {
		t.Fatal("join sent after failed install")
	}
	requireNoFiles(t, h.installDir)
}

func TestInstalledIDMismatchFails(t *testing.T) {
	reg := newFakeRegistry()
	reg.installID = "evil"
	h := newTestHarness(t, reg)
	h.send(
		serverInfo("foo:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 2},
		netdata.ModuleData{Data: []byte("ab")},
	)
	requireFailed(t, h, ErrInstall)
	if h.ch.joins() != 0 {
		t.Fatal("join sent for a module that was not installed")
	}
	if reg.Lookup("evil", "1.0") {
		t.Error("mismatched module left registered")
	}
	requireNoFiles(t, h.installDir)
}

func TestZeroSizeModuleCompletesOnHeader(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("empty:1.0"), netdata.ModuleHeader{ID: "empty", Version: "1.0", Size: 0})
	if h.ch.joins() != 1 {
		t.Fatalf("joins = %d, want 1", h.ch.joins())
	}
	if fi, err := os.Stat(filepath.Join(h.installDir, "empty-1.0.jar")); err != nil || fi.Size() != 0 {
		t.Fatalf("stat = %v, %v", fi, err)
	}
}

func TestDuplicateServerInfoFails(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("foo:1.0"), serverInfo())
	requireFailed(t, h, ErrProtocolViolation)
}

func TestJoinCompleteBeforeServerInfoFails(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(netdata.JoinComplete{ClientID: 1})
	requireFailed(t, h, ErrProtocolViolation)
	select {
	case <-h.joined:
		t.Fatal("handed off without a server")
	default:
	}
}

func TestJoinCompleteWithMissingModulesStillCompletes(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(
		serverInfo("foo:1.0", "bar:1.0"),
		netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 4},
		netdata.ModuleData{Data: []byte{1, 2}},
		netdata.JoinComplete{ClientID: 9},
	)
	if s := h.hs.Status().Status(); s != status.Complete {
		t.Fatalf("status = %s, want COMPLETE", s)
	}
	if n := len(h.scratch.Pending()); n != 0 {
		t.Errorf("unfinished download kept: %d scratch files", n)
	}
	if len(h.joined) != 1 {
		t.Fatal("server handle not handed off")
	}
}

func TestUnknownMessageIgnored(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("foo:1.0"), netdata.Unknown{Type: 77})
	if s := h.hs.Status().Status(); s != status.Pending {
		t.Fatalf("status = %s, want PENDING", s)
	}
	if h.ch.Closes() != 0 {
		t.Fatal("channel closed for an unknown message")
	}
}

func TestInertAfterTerminal(t *testing.T) {
	t.Run("failed", func(t *testing.T) {
		h := newTestHarness(t, newFakeRegistry())
		h.send(serverInfo("foo:1.0"), netdata.ModuleHeader{ID: "bar", Version: "1"})
		before := h.hs.Status().Snapshot()
		writes := len(h.ch.Written())

		h.send(
			netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 1},
			netdata.ModuleData{Data: []byte{1}},
			netdata.JoinComplete{ClientID: 1},
		)
		if after := h.hs.Status().Snapshot(); after != before {
			t.Fatalf("status mutated after failure: %+v -> %+v", before, after)
		}
		if len(h.ch.Written()) != writes || h.ch.Closes() != 1 {
			t.Fatalf("side effects after failure: writes %d->%d, closes %d", writes, len(h.ch.Written()), h.ch.Closes())
		}
		requireNoFiles(t, h.installDir)
	})

	t.Run("complete", func(t *testing.T) {
		h := newTestHarness(t, newFakeRegistry())
		h.send(serverInfo(), netdata.JoinComplete{ClientID: 1})
		before := h.hs.Status().Snapshot()

		h.send(serverInfo("foo:1.0"), netdata.JoinComplete{ClientID: 2})
		if after := h.hs.Status().Snapshot(); after != before {
			t.Fatalf("status mutated after completion: %+v -> %+v", before, after)
		}
		if len(h.ch.Written()) != 1 {
			t.Fatalf("writes after completion: %v", h.ch.Written())
		}
		if len(h.joined) != 1 {
			t.Fatal("handed off more than once")
		}
	})
}

func TestTimeoutFailsOnce(t *testing.T) {
	h := newHarness(t, newFakeRegistry(), zerolog.Nop(), 30*time.Millisecond, 10*time.Millisecond)
	h.hs.Start()
	h.send(serverInfo("foo:1.0"))

	deadline := time.Now().Add(2 * time.Second)
	for h.hs.Status().Status() != status.Failed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	requireFailed(t, h, ErrTimeout)
	if msg := h.hs.Status().ErrorMessage(); msg != "Server stopped responding." {
		t.Errorf("error message = %q", msg)
	}

	// later firings and messages change nothing
	time.Sleep(100 * time.Millisecond)
	h.send(netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 1})
	if n := h.ch.Closes(); n != 1 {
		t.Fatalf("channel closed %d times, want 1", n)
	}
	if !errors.Is(h.hs.Status().Err(), ErrTimeout) {
		t.Fatalf("error replaced: %v", h.hs.Status().Err())
	}
}

func TestActiveServerDoesNotTimeOut(t *testing.T) {
	h := newHarness(t, newFakeRegistry(), zerolog.Nop(), 60*time.Millisecond, 10*time.Millisecond)
	h.hs.Start()
	h.send(serverInfo("foo:1.0"), netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 8})
	for i := 0; i < 8; i++ {
		time.Sleep(20 * time.Millisecond)
		h.send(netdata.ModuleData{Data: []byte{byte(i)}})
	}
	if s := h.hs.Status().Status(); s != status.Pending {
		t.Fatalf("status = %s (%v), want PENDING", s, h.hs.Status().Err())
	}
	if h.ch.joins() != 1 {
		t.Fatalf("joins = %d, want 1", h.ch.joins())
	}
}

func TestCompleteStopsWatchdog(t *testing.T) {
	h := newHarness(t, newFakeRegistry(), zerolog.Nop(), 20*time.Millisecond, 5*time.Millisecond)
	h.hs.Start()
	h.send(serverInfo(), netdata.JoinComplete{ClientID: 3})
	time.Sleep(80 * time.Millisecond)
	if s := h.hs.Status().Status(); s != status.Complete {
		t.Fatalf("status = %s, want COMPLETE", s)
	}
	if h.ch.Closes() != 0 {
		t.Fatal("watchdog closed a joined session")
	}
}

func TestAbort(t *testing.T) {
	h := newTestHarness(t, newFakeRegistry())
	h.send(serverInfo("foo:1.0"), netdata.ModuleHeader{ID: "foo", Version: "1.0", Size: 4})
	h.hs.Abort(errors.New("eof"))
	requireFailed(t, h, ErrConnectionLost)
	if n := len(h.scratch.Pending()); n != 0 {
		t.Errorf("download not discarded: %d scratch files", n)
	}

	done := newTestHarness(t, newFakeRegistry())
	done.send(serverInfo(), netdata.JoinComplete{})
	done.hs.Abort(errors.New("eof"))
	if s := done.hs.Status().Status(); s != status.Complete {
		t.Fatalf("abort after join changed status to %s", s)
	}
}
