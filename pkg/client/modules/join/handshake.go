package join

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-mclib/joinclient/pkg/client"
	"github.com/go-mclib/joinclient/pkg/config"
	"github.com/go-mclib/joinclient/pkg/modfs"
	"github.com/go-mclib/joinclient/pkg/netdata"
	"github.com/go-mclib/joinclient/pkg/registry"
	"github.com/go-mclib/joinclient/pkg/status"
	"github.com/go-mclib/joinclient/pkg/transport"
	"github.com/go-mclib/joinclient/pkg/watchdog"
	"github.com/rs/zerolog"
)

// Options wires a Handshake to its collaborators.
type Options struct {
	Channel    transport.Channel
	Registry   registry.Registry
	InstallDir string
	Scratch    *modfs.Scratch
	Player     config.Player
	Status     *status.JoinStatus
	Logger     zerolog.Logger

	// Timeout is the silence allowed between server messages; Margin is
	// added before each watchdog check.
	Timeout time.Duration
	Margin  time.Duration

	// OnJoined receives the session handle after JoinComplete.
	OnJoined func(*client.Server)
}

// transfer is the module download in flight.
type transfer struct {
	id       string
	version  string
	size     int64
	received int64
	path     string
	file     *os.File
	w        *bufio.Writer
}

func (t *transfer) String() string { return t.id + ":" + t.version }

// close flushes and closes the scratch file. Safe to call twice.
func (t *transfer) close() error {
	if t.file == nil {
		return nil
	}
	ferr := t.w.Flush()
	cerr := t.file.Close()
	t.file = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Handshake drives one connection from ServerInfo to JoinComplete.
//
// Messages must be delivered from a single goroutine in arrival order. The
// watchdog fires on its own goroutine; mu serialises it against message
// handling so a terminal transition is decided exactly once.
type Handshake struct {
	channel    transport.Channel
	registry   registry.Registry
	installDir string
	scratch    *modfs.Scratch
	player     config.Player
	status     *status.JoinStatus
	logger     zerolog.Logger
	onJoined   func(*client.Server)
	watchdog   *watchdog.Watchdog

	mu       sync.Mutex
	server   *client.Server
	missing  map[string]struct{}
	transfer *transfer
	joinSent bool
	detached bool
}

func NewHandshake(opts Options) *Handshake {
	if opts.Status == nil {
		opts.Status = status.New()
	}
	if opts.Scratch == nil {
		opts.Scratch = modfs.NewScratch("")
	}
	h := &Handshake{
		channel:    opts.Channel,
		registry:   opts.Registry,
		installDir: opts.InstallDir,
		scratch:    opts.Scratch,
		player:     opts.Player,
		status:     opts.Status,
		logger:     opts.Logger.With().Str("component", "join").Logger(),
		onJoined:   opts.OnJoined,
		missing:    make(map[string]struct{}),
	}
	h.watchdog = watchdog.New(opts.Timeout, opts.Margin, h.expire)
	return h
}

func (h *Handshake) Status() *status.JoinStatus { return h.status }

// Missing returns the lower-cased ids still expected from the server.
func (h *Handshake) Missing() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.missing)
}

// Start arms the watchdog. The server must send its first message within
// the timeout.
func (h *Handshake) Start() {
	h.watchdog.Start()
}

// Stop disarms the watchdog without changing the status.
func (h *Handshake) Stop() {
	h.watchdog.Stop()
}

// HandleMessage processes one inbound message.
func (h *Handshake) HandleMessage(msg netdata.Inbound) {
	server := h.handle(msg)
	if server != nil && h.onJoined != nil {
		h.onJoined(server)
	}
}

// Abort ends the handshake because the connection went away. A handshake
// that already finished is left alone.
func (h *Handshake) Abort(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchdog.Stop()
	if !h.detached {
		h.fail(&Error{Kind: ErrConnectionLost, Message: "Connection to server lost.", Cause: cause})
	}
	h.discardTransfer()
}

func (h *Handshake) handle(msg netdata.Inbound) *client.Server {
	h.mu.Lock()
	defer h.mu.Unlock()

	// inert once failed or handed off
	if h.detached || h.status.Status().Terminal() {
		h.discardTransfer()
		return nil
	}
	h.watchdog.Refresh()

	var handoff *client.Server
	switch m := msg.(type) {
	case netdata.ServerInfo:
		h.receivedServerInfo(m)
	case netdata.ModuleHeader:
		h.receiveModuleStart(m)
	case netdata.ModuleData:
		h.receiveModule(m)
	case netdata.JoinComplete:
		handoff = h.completeJoin(m)
	default:
		h.logger.Warn().Stringer("kind", msg.Kind()).Msg("received unexpected message")
	}

	if h.status.Status() == status.Failed {
		h.discardTransfer()
	}
	return handoff
}

func (h *Handshake) receivedServerInfo(info netdata.ServerInfo) {
	if h.server != nil {
		h.fail(protocolError("Protocol error: server info received twice"))
		return
	}
	h.logger.Info().
		Str("game", info.GameName).
		Str("version", info.Version).
		Int("modules", len(info.Modules)).
		Msg("received server info")
	h.server = client.NewServer(h.channel, info)

	for _, mi := range info.Modules {
		if !h.registry.Lookup(mi.ID, mi.Version) {
			h.missing[strings.ToLower(mi.ID)] = struct{}{}
		}
	}

	if len(h.missing) == 0 {
		h.status.SetActivity("Finalizing join")
		h.sendJoin()
		return
	}

	h.status.SetActivity("Requesting missing modules")
	for _, id := range sortedKeys(h.missing) {
		h.logger.Debug().Str("module", id).Msg("requesting module")
		if err := h.channel.Write(netdata.ModuleRequest{ID: id}); err != nil {
			h.fail(ioError(err, downloadError+": could not request "+id))
			return
		}
	}
}

func (h *Handshake) receiveModuleStart(hdr netdata.ModuleHeader) {
	name := hdr.ID + ":" + hdr.Version
	if h.server == nil {
		h.fail(protocolError("%s: %s announced before server info", downloadError, name))
		return
	}
	if h.transfer != nil {
		h.fail(protocolError("%s: %s announced while %s is still downloading", downloadError, name, h.transfer))
		return
	}
	key := strings.ToLower(hdr.ID)
	if _, ok := h.missing[key]; !ok {
		h.logger.Error().Str("module", name).Msg("received unwanted module from server")
		h.fail(protocolError("%s: unexpected module %s", downloadError, name))
		return
	}
	delete(h.missing, key)

	if hdr.HasError() {
		h.fail(integrityError(nil, "%s: %s", downloadError, hdr.Error))
		return
	}
	if hdr.Size < 0 {
		h.fail(integrityError(nil, "%s: %s has invalid size %d", downloadError, name, hdr.Size))
		return
	}

	activity := fmt.Sprintf("Downloading %s (%s, %d modules remain)", name, humanize.IBytes(uint64(hdr.Size)), len(h.missing))
	h.status.SetActivity(activity)
	h.status.SetProgress(0)
	h.logger.Info().Str("module", name).Int64("size", hdr.Size).Int("remaining", len(h.missing)).Msg("downloading module")

	f, err := h.scratch.Create()
	if err != nil {
		h.fail(ioError(err, downloadError))
		return
	}
	h.transfer = &transfer{
		id:      hdr.ID,
		version: hdr.Version,
		size:    hdr.Size,
		path:    f.Name(),
		file:    f,
		w:       bufio.NewWriter(f),
	}
	if hdr.Size == 0 {
		h.finishTransfer()
	}
}

func (h *Handshake) receiveModule(data netdata.ModuleData) {
	t := h.transfer
	if t == nil {
		h.fail(protocolError("%s: module data without a header", downloadError))
		return
	}
	n := int64(len(data.Data))
	if n > t.size-t.received {
		h.fail(integrityError(nil, "%s: %s sent more than the announced %d bytes", downloadError, t, t.size))
		return
	}
	if _, err := t.w.Write(data.Data); err != nil {
		h.fail(ioError(err, downloadError))
		return
	}
	t.received += n
	h.status.SetProgress(float32(t.received) / float32(t.size))
	if t.received == t.size {
		h.finishTransfer()
	}
}

// finishTransfer installs the completed download.
func (h *Handshake) finishTransfer() {
	t := h.transfer
	if err := t.close(); err != nil {
		h.fail(ioError(err, downloadError))
		return
	}
	h.status.SetProgress(1)

	dst, err := modfs.ResolveDestination(h.installDir, modfs.ModuleFileName(t.id, t.version))
	if err != nil {
		h.logger.Error().Err(err).Str("module", t.String()).Msg("module rejected")
		h.fail(integrityError(err, "%s: %s rejected", downloadError, t))
		return
	}
	if err := modfs.Place(t.path, dst); err != nil {
		if errors.Is(err, modfs.ErrExists) {
			h.logger.Error().Str("path", dst).Msg("file already exists")
			h.fail(integrityError(err, "%s: %s is already present", downloadError, t))
			return
		}
		h.logger.Error().Err(err).Str("module", t.String()).Msg("error saving module")
		h.fail(ioError(err, downloadError))
		return
	}
	h.discardTransfer()

	desc, err := h.registry.Install(dst)
	if err != nil {
		h.logger.Error().Err(err).Str("path", dst).Msg("failed to install module")
		if rerr := os.Remove(dst); rerr != nil {
			h.logger.Warn().Err(rerr).Str("path", dst).Msg("failed to remove uninstallable module")
		}
		h.fail(installError(err, "%s: could not install %s", downloadError, t))
		return
	}
	if !strings.EqualFold(desc.ID, t.id) {
		h.logger.Error().Str("announced", t.id).Str("installed", desc.ID).Msg("installed module id differs from header")
		h.registry.Uninstall(desc)
		if rerr := os.Remove(dst); rerr != nil {
			h.logger.Warn().Err(rerr).Str("path", dst).Msg("failed to remove mismatched module")
		}
		h.fail(installError(nil, "%s: %s contains module %s", downloadError, t, desc))
		return
	}
	h.logger.Info().Str("module", desc.String()).Str("path", dst).Msg("installed module")

	if len(h.missing) == 0 {
		h.status.SetActivity("Finalizing join")
		h.sendJoin()
	}
}

func (h *Handshake) completeJoin(jc netdata.JoinComplete) *client.Server {
	if h.server == nil {
		h.fail(protocolError("Protocol error: join completed before server info"))
		return nil
	}
	h.logger.Info().Int32("client_id", jc.ClientID).Msg("join complete received")
	if len(h.missing) > 0 {
		h.logger.Error().
			Strs("missing", sortedKeys(h.missing)).
			Msg("the server did not send all of the modules that were needed before ending module transmission")
	}
	if !h.joinSent {
		h.logger.Warn().Msg("join completed before the join request was sent")
	}
	if h.transfer != nil {
		h.logger.Warn().Str("module", h.transfer.String()).Msg("discarding unfinished module download")
		h.discardTransfer()
	}

	h.server.SetClientID(jc.ClientID)
	h.detached = true
	h.watchdog.Stop()
	h.status.Complete()
	return h.server
}

func (h *Handshake) sendJoin() {
	if h.joinSent {
		return
	}
	err := h.channel.Write(netdata.Join{
		Name:              h.player.Name,
		ViewDistanceLevel: h.player.ViewDistance,
		Color:             h.player.Color.RGBA(),
	})
	if err != nil {
		h.fail(ioError(err, "Could not send join request"))
		return
	}
	h.joinSent = true
}

// expire runs on the watchdog goroutine.
func (h *Handshake) expire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached || !h.watchdog.Expired() {
		return
	}
	if h.fail(timeoutError(h.watchdog.Threshold())) {
		h.logger.Error().Dur("threshold", h.watchdog.Threshold()).Msg("server timeout threshold exceeded")
	}
}

// fail records err as the outcome and closes the channel. Only the first
// terminal transition has any effect. Callers hold mu. The in-flight
// transfer is left to the message goroutine.
func (h *Handshake) fail(err *Error) bool {
	if !h.status.Fail(err) {
		return false
	}
	ev := h.logger.Error().Str("kind", err.Kind.Error())
	if err.Cause != nil {
		ev = ev.AnErr("cause", err.Cause)
	}
	ev.Msg(err.Message)

	h.watchdog.Stop()
	if cerr := h.channel.Close(); cerr != nil {
		h.logger.Debug().Err(cerr).Msg("close channel")
	}
	return true
}

// discardTransfer closes and deletes the in-flight download, if any.
func (h *Handshake) discardTransfer() {
	t := h.transfer
	if t == nil {
		return
	}
	h.transfer = nil
	if err := t.close(); err != nil {
		h.logger.Debug().Err(err).Str("module", t.String()).Msg("close download")
	}
	if err := h.scratch.Remove(t.path); err != nil {
		h.logger.Warn().Err(err).Str("path", t.path).Msg("failed to remove download")
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
