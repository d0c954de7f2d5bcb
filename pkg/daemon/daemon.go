// Package daemon wires the tailer, the event bus and its consumers into the
// vrcguardd process and serves their state over the Unix socket.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/modoterra/vrcguard/internal/buildinfo"
	"github.com/modoterra/vrcguard/pkg/avatars"
	"github.com/modoterra/vrcguard/pkg/config"
	"github.com/modoterra/vrcguard/pkg/core"
	"github.com/modoterra/vrcguard/pkg/debounce"
	"github.com/modoterra/vrcguard/pkg/eventbus"
	"github.com/modoterra/vrcguard/pkg/handlers"
	"github.com/modoterra/vrcguard/pkg/metrics"
	"github.com/modoterra/vrcguard/pkg/notify/discord"
	"github.com/modoterra/vrcguard/pkg/tailer"
	"github.com/modoterra/vrcguard/pkg/transport/uds"
)

// Task names as reported in Status.
const (
	TaskTailer      = "tailer"
	TaskServer      = "uds"
	TaskStatus      = "status"
	TaskMetrics     = "metrics"
	TaskEnricher    = "enricher"
	TaskAutoBan     = "auto-ban"
	TaskAutoInvite  = "auto-invite"
	TaskAvatarLog   = "avatar-log"
	TaskDiscord     = "discord"
	TaskBroadcaster = "broadcast"
)

// Config is everything the daemon needs besides the directory service.
type Config struct {
	LogDir     string
	SocketPath string
	// Since filters replayed log lines. Zero means the time the tailer starts.
	Since    time.Time
	Location *time.Location
	SelfID   string
	GroupID  string

	AutoBan     bool
	AvatarsFile string
	AutoInvite  bool
	InviteDelay time.Duration

	LogAvatarIDs bool
	Discord      discord.Config

	StatusInterval time.Duration
	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string
	MetricsPath string

	Retry handlers.Retrier
	Clock clock.Clock
}

// ConfigFrom maps a loaded config file onto daemon settings. logDir is the
// resolved log directory.
func ConfigFrom(c *config.Config, logDir string) Config {
	cfg := Config{
		LogDir:       logDir,
		SocketPath:   c.Daemon.Socket,
		SelfID:       c.SelfUserID,
		GroupID:      c.GroupID,
		AutoBan:      c.AutoBan.Enabled,
		AvatarsFile:  c.AutoBan.AvatarsFile,
		AutoInvite:   c.AutoInvite.Enabled,
		InviteDelay:  c.AutoInvite.Delay,
		LogAvatarIDs: c.LogAvatarIDs,
		Discord: discord.Config{
			URL:            c.DiscordWebhook.URL,
			Username:       c.DiscordWebhook.Username,
			AvatarURL:      c.DiscordWebhook.AvatarURL,
			OnAutoBan:      c.DiscordWebhook.LogOnAutoBan,
			OnAutoInvite:   c.DiscordWebhook.LogOnAutoInvite,
			OnPlayerJoined: c.DiscordWebhook.LogOnPlayerJoined,
			OnPlayerLeft:   c.DiscordWebhook.LogOnPlayerLeft,
		},
		StatusInterval: c.Daemon.StatusInterval,
	}
	if c.Metrics.Enabled {
		cfg.MetricsAddr = c.Metrics.Addr
		cfg.MetricsPath = c.Metrics.Path
	}
	return cfg
}

// Status is the daemon state served by the Status method and pushed as
// status.changed.
type Status struct {
	Version        string          `json:"version"`
	StartedAt      time.Time       `json:"started_at"`
	Tailer         tailer.Status   `json:"tailer"`
	Subscribers    int             `json:"subscribers"`
	Players        int             `json:"players"`
	Clients        int             `json:"clients"`
	PendingInvites []debounce.Task `json:"pending_invites"`
	Tasks          []core.TaskInfo `json:"tasks"`
}

// Daemon is the vrcguardd process.
type Daemon struct {
	cfg     Config
	dir     core.DirectoryService
	logger  *slog.Logger
	metrics *metrics.Metrics

	bus     *eventbus.Bus
	invites *debounce.Scheduler
	tailer  *tailer.Tailer
	server  *uds.Server
	ready   chan struct{}

	started time.Time
	sup     *Supervisor
}

// New creates a daemon. m may be nil to disable metrics collection.
func New(cfg Config, dir core.DirectoryService, m *metrics.Metrics, logger *slog.Logger) *Daemon {
	opts := []debounce.Option{debounce.WithMetrics(m)}
	if cfg.Clock != nil {
		opts = append(opts, debounce.WithClock(cfg.Clock))
	}

	bus := eventbus.New(logger, m)
	d := &Daemon{
		cfg:     cfg,
		dir:     dir,
		logger:  logger,
		metrics: m,
		bus:     bus,
		invites: debounce.New(logger, opts...),
		server:  uds.NewServer(cfg.SocketPath, logger),
		ready:   make(chan struct{}),
	}
	d.tailer = tailer.New(tailer.Config{
		Dir:      cfg.LogDir,
		Since:    cfg.Since,
		Location: cfg.Location,
		Metrics:  m,
	}, bus, logger)

	d.registerHandlers()
	d.registerGauges()
	return d
}

// Bus returns the event bus, for callers that want to observe events in
// process.
func (d *Daemon) Bus() *eventbus.Bus {
	return d.bus
}

// Ready is closed once the log is being tailed and the socket is listening.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Run starts every task and blocks until ctx is canceled or a task fails.
// Consumers subscribe before the tailer starts so no event is missed.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()
	sup, gctx := NewSupervisor(ctx, d.logger)
	d.sup = sup

	d.consume(TaskEnricher, handlers.NewEnricher(d.dir, d.cfg.SelfID, d.bus, d.logger).Handle)
	if d.cfg.AutoBan {
		d.consume(TaskAutoBan, handlers.NewAutoBan(handlers.AutoBanConfig{
			Directory: d.dir,
			List:      avatars.NewList(d.cfg.AvatarsFile),
			GroupID:   d.cfg.GroupID,
			Invites:   d.invites,
			Retry:     d.cfg.Retry,
			Metrics:   d.metrics,
		}, d.bus, d.logger).Handle)
	}
	if d.cfg.AutoInvite {
		d.consume(TaskAutoInvite, handlers.NewAutoInvite(handlers.AutoInviteConfig{
			Directory: d.dir,
			GroupID:   d.cfg.GroupID,
			Delay:     d.cfg.InviteDelay,
			Scheduler: d.invites,
			Retry:     d.cfg.Retry,
			Metrics:   d.metrics,
		}, d.bus, d.logger).Handle)
	}
	if d.cfg.LogAvatarIDs {
		d.consume(TaskAvatarLog, handlers.NewAvatarLogger(d.logger).Handle)
	}
	if d.cfg.Discord.Enabled() {
		d.consume(TaskDiscord, discord.New(d.cfg.Discord, d.dir, d.logger).Handle)
	}
	d.consume(TaskBroadcaster, d.broadcast)

	sup.Go(TaskServer, d.server.Start)
	sup.Go(TaskTailer, d.tailer.Run)
	sup.Go(TaskStatus, NewStatusLoop(d, d.cfg.StatusInterval, d.logger).Run)
	if d.cfg.MetricsAddr != "" && d.metrics != nil {
		sup.Go(TaskMetrics, func(ctx context.Context) error {
			return d.metrics.Serve(ctx, d.cfg.MetricsAddr, d.cfg.MetricsPath, d.logger)
		})
	}

	go d.waitReady(gctx)

	err := sup.Wait()
	return multierr.Append(err, d.Shutdown())
}

func (d *Daemon) consume(name string, fn func(context.Context, core.Event)) {
	sub := d.bus.Subscribe()
	d.sup.Go(name, func(ctx context.Context) error {
		return eventbus.Consume(ctx, sub, fn)
	})
}

func (d *Daemon) waitReady(ctx context.Context) {
	for _, ch := range []<-chan struct{}{d.tailer.Ready(), d.server.Ready()} {
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
	d.logger.Info("daemon ready", "log", d.tailer.Status().Path, "socket", d.cfg.SocketPath)
	close(d.ready)
}

func (d *Daemon) broadcast(_ context.Context, e core.Event) {
	evt, err := uds.NewEvent(uds.EventDomain, core.Wrap(e))
	if err != nil {
		d.logger.Error("encode event", "kind", e.Kind(), "err", err)
		return
	}
	d.server.Broadcast(evt)
}

// Shutdown drops pending invites and closes the socket.
func (d *Daemon) Shutdown() error {
	d.invites.Stop()
	if err := d.server.Shutdown(); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// Status returns a snapshot of the daemon.
func (d *Daemon) Status() Status {
	s := Status{
		Version:        buildinfo.Version,
		StartedAt:      d.started,
		Tailer:         d.tailer.Status(),
		Subscribers:    d.bus.Len(),
		Players:        d.tailer.Identities().Len(),
		Clients:        d.server.Clients(),
		PendingInvites: d.invites.Tasks(),
	}
	if d.sup != nil {
		s.Tasks = d.sup.Tasks()
	}
	return s
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodStatus, d.handleStatus)
	d.server.Handle(uds.MethodCancelInvite, d.handleCancelInvite)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: buildinfo.Version}, nil
}

func (d *Daemon) handleStatus(_ context.Context, _ uds.Message) (any, error) {
	return d.Status(), nil
}

func (d *Daemon) handleCancelInvite(_ context.Context, msg uds.Message) (any, error) {
	var req uds.CancelInviteRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("invalid request: user_id is required")
	}
	canceled := d.invites.Cancel(req.UserID)
	d.logger.Info("cancel invite requested", "user", req.UserID, "canceled", canceled)
	return uds.CancelInviteResponse{Canceled: canceled}, nil
}

func (d *Daemon) registerGauges() {
	gauges := []struct {
		subsystem, name, help string
		fn                    func() float64
	}{
		{"bus", "subscribers", "Live event bus subscriptions.", func() float64 { return float64(d.bus.Len()) }},
		{"scheduler", "pending_invites", "Invites waiting for their delay to elapse.", func() float64 { return float64(d.invites.Len()) }},
		{"identity", "players", "Players currently known from the log.", func() float64 { return float64(d.tailer.Identities().Len()) }},
		{"uds", "clients", "Connected socket clients.", func() float64 { return float64(d.server.Clients()) }},
		{"tailer", "offset_bytes", "Read offset in the current log file.", func() float64 { return float64(d.tailer.Status().Offset) }},
	}
	for _, g := range gauges {
		if err := d.metrics.RegisterGauge(g.subsystem, g.name, g.help, g.fn); err != nil {
			d.logger.Warn("register gauge", "err", err)
		}
	}
}
