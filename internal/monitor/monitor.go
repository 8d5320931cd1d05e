// Package monitor owns every probe, the custom endpoint cache and the
// built-in check results. Run is the only goroutine that touches that state;
// probe outcomes and caller requests reach it over channels.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/domain"
	"github.com/hamed0406/servicestatus/internal/notify"
	"github.com/hamed0406/servicestatus/internal/probe"
	"github.com/hamed0406/servicestatus/internal/registry"
	"github.com/hamed0406/servicestatus/internal/repo"
	"github.com/hamed0406/servicestatus/internal/repo/memory"
	"github.com/hamed0406/servicestatus/internal/scheduler"
)

var (
	ErrClosed  = errors.New("monitor closed")
	ErrRunning = errors.New("monitor already running")
	ErrNoURL   = errors.New("endpoint has no url")
)

const (
	builtinPrefix = "builtin:"
	customPrefix  = "custom:"
)

type Options struct {
	Config   config.Config
	Store    repo.EndpointStore // custom endpoints; in-memory when nil
	Values   repo.KV            // last success timestamps; in-memory when nil
	Client   probe.Requester
	Notifier notify.Notifier
	Resolver probe.Resolver // DNS diagnostics for offline results
	Logger   *zap.Logger
}

type BuiltInStatus struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	OK          bool   `json:"ok"`
	Checked     bool   `json:"checked"`
	LastSuccess string `json:"last_success"`
}

type EndpointStatus struct {
	domain.Endpoint
	Checking bool `json:"checking"`
}

// Snapshot is everything a rendering shell needs for one frame.
type Snapshot struct {
	Indicator       domain.Indicator `json:"indicator"`
	Color           string           `json:"color"`
	Visible         bool             `json:"visible"`
	BuiltIns        []BuiltInStatus  `json:"builtins"`
	Endpoints       []EndpointStatus `json:"endpoints"`
	AllOnline       bool             `json:"all_online"`
	IntervalSeconds float64          `json:"interval_seconds"`
	Settings        config.Settings  `json:"settings"`
	UpdatedAt       string           `json:"updated_at"`
}

type builtin struct {
	BuiltIn
	probe  *probe.Probe
	status BuiltInStatus
}

type node struct {
	probe    *probe.Probe
	guard    probe.InvalidGuard
	checking bool
}

type notification struct {
	message  string
	severity notify.Severity
}

type Monitor struct {
	log      *zap.Logger
	registry *registry.Registry
	values   repo.KV
	client   probe.Requester
	notifier notify.Notifier
	resolver probe.Resolver
	sched    *scheduler.Scheduler
	now      func() time.Time

	outcomes chan probe.Outcome
	cmds     chan func(context.Context)
	notes    chan notification
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	// owned by Run
	cfg       config.Config
	builtins  []*builtin
	endpoints []domain.Endpoint
	nodes     map[domain.EndpointID]*node
	inSession bool
	subs      map[int]chan Snapshot
	nextSub   int
}

func New(opts Options) *Monitor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	store := opts.Store
	values := opts.Values
	if store == nil || values == nil {
		mem := memory.New()
		if store == nil {
			store = mem
		}
		if values == nil {
			values = mem
		}
	}
	client := opts.Client
	if client == nil {
		client = probe.NewHTTPClient()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Log{Logger: log}
	}

	return &Monitor{
		log:      log,
		registry: registry.New(store),
		values:   values,
		client:   client,
		notifier: notifier,
		resolver: opts.Resolver,
		sched:    scheduler.New(opts.Config.RefreshRate, log),
		now:      time.Now,
		outcomes: make(chan probe.Outcome, 16),
		cmds:     make(chan func(context.Context)),
		notes:    make(chan notification, 32),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		cfg:      opts.Config,
		nodes:    make(map[domain.EndpointID]*node),
		subs:     make(map[int]chan Snapshot),
	}
}

// Run drives the monitor until ctx is done or Close is called. Every probe is
// cancelled before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.deliver(context.WithoutCancel(ctx))
	}()
	defer func() {
		m.teardown()
		wg.Wait()
		close(m.done)
	}()

	m.bootstrap(ctx)
	m.sched.Start(ctx)
	m.log.Info("monitor_started",
		zap.Int("builtins", len(m.builtins)),
		zap.Int("endpoints", len(m.endpoints)),
		zap.Duration("interval", m.sched.Interval()),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case t := <-m.sched.C():
			m.tick(ctx, t.Reason)
		case o := <-m.outcomes:
			m.apply(ctx, o)
		case cmd := <-m.cmds:
			cmd(ctx)
		}
	}
}

// Close stops Run and waits for it to finish. Safe to call more than once.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

func (m *Monitor) bootstrap(ctx context.Context) {
	m.builtins = m.newBuiltIns(nil)
	for _, b := range m.builtins {
		last, err := m.values.Get(ctx, b.LastKey)
		if err != nil {
			m.log.Warn("last_success_load_error", zap.String("key", b.LastKey), zap.Error(err))
		}
		b.status.LastSuccess = last
	}
	m.reload(ctx)
}

func (m *Monitor) teardown() {
	m.sched.Stop()
	for _, b := range m.builtins {
		b.probe.Close()
	}
	for _, nd := range m.nodes {
		nd.probe.Close()
	}
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	close(m.notes)
	m.log.Info("monitor_stopped")
}

// newBuiltIns builds the fixed checks from the current config, carrying over
// statuses from prev by name.
func (m *Monitor) newBuiltIns(prev []*builtin) []*builtin {
	old := make(map[string]BuiltInStatus, len(prev))
	for _, b := range prev {
		b.probe.Close()
		old[b.Name] = b.status
	}
	defs := BuiltIns(m.cfg)
	out := make([]*builtin, 0, len(defs))
	for _, d := range defs {
		client := d.Client
		if client == nil {
			client = m.client
		}
		st, ok := old[d.Name]
		if !ok {
			st = BuiltInStatus{Name: d.Name}
		}
		st.Label = d.Label
		out = append(out, &builtin{
			BuiltIn: d,
			probe:   probe.New(builtinPrefix+d.Name, client, m.outcomes),
			status:  st,
		})
	}
	return out
}

func (m *Monitor) tick(ctx context.Context, reason scheduler.Reason) {
	m.log.Debug("tick", zap.String("reason", string(reason)))
	for _, b := range m.builtins {
		m.startBuiltIn(ctx, b)
	}
	m.reload(ctx)
	manual := reason == scheduler.ReasonManual
	// check may forget endpoints that vanished from the store
	for _, n := range slices.Clone(m.endpoints) {
		if n.URL == "" {
			continue
		}
		m.check(ctx, n, manual)
	}
	m.publish()
}

func (m *Monitor) startBuiltIn(ctx context.Context, b *builtin) {
	_, err := b.probe.Start(ctx, b.Request, false)
	if err == nil {
		return
	}
	m.log.Warn("builtin_start_failed",
		zap.String("check", b.Name),
		zap.String("url", b.Request.URL),
		zap.Error(err),
	)
	m.builtinResult(ctx, b, probe.Outcome{Key: b.probe.Key(), Err: err, At: m.now()})
}

// check starts a request for one custom endpoint. An invalid URL is recorded
// offline right away.
func (m *Monitor) check(ctx context.Context, n domain.Endpoint, manual bool) {
	nd := m.node(n.ID)
	// a superseded manual check hands its pending notification to this one
	manual = manual || nd.checking

	_, err := nd.probe.Start(ctx, m.endpointRequest(n.URL), manual)
	switch {
	case errors.Is(err, probe.ErrInvalidURL):
		nd.checking = false
		m.log.Warn("endpoint_invalid_url", zap.String("id", string(n.ID)), zap.String("url", n.URL))
		m.recordEndpoint(ctx, n.ID, false, m.now())
		if nd.guard.Observe(false) {
			m.enqueue(fmt.Sprintf("Invalid URL for %s: %s", label(n), n.URL), notify.SeverityError)
		}
		return
	case err != nil:
		m.log.Warn("endpoint_start_failed", zap.String("id", string(n.ID)), zap.Error(err))
		return
	}
	nd.guard.Observe(true)
	nd.checking = manual
}

func (m *Monitor) endpointRequest(url string) probe.Request {
	return probe.Request{
		URL:             url,
		Timeout:         requestTimeout(m.cfg),
		FollowRedirects: true,
	}
}

func (m *Monitor) node(id domain.EndpointID) *node {
	nd, ok := m.nodes[id]
	if !ok {
		nd = &node{probe: probe.New(customPrefix+string(id), m.client, m.outcomes)}
		m.nodes[id] = nd
	}
	return nd
}

// forget cancels the endpoint's probe and drops it from the cache.
func (m *Monitor) forget(id domain.EndpointID) {
	if nd, ok := m.nodes[id]; ok {
		nd.probe.Close()
		delete(m.nodes, id)
	}
	m.endpoints = repo.RemoveByID(m.endpoints, id)
}

// reload refreshes the endpoint cache from the store and retires probes of
// endpoints that are gone.
func (m *Monitor) reload(ctx context.Context) {
	nodes, err := m.registry.List(ctx)
	if err != nil {
		m.log.Warn("store_load_error", zap.Error(err))
		return
	}
	m.endpoints = nodes
	for id, nd := range m.nodes {
		if _, ok := repo.GetByID(nodes, id); !ok {
			nd.probe.Close()
			delete(m.nodes, id)
		}
	}
}

func (m *Monitor) apply(ctx context.Context, o probe.Outcome) {
	switch {
	case strings.HasPrefix(o.Key, builtinPrefix):
		b := m.builtinByKey(o.Key)
		if b == nil || !b.probe.Accept(o) {
			m.log.Debug("outcome_dropped", zap.String("key", o.Key))
			return
		}
		m.builtinResult(ctx, b, o)

	case strings.HasPrefix(o.Key, customPrefix):
		id := domain.EndpointID(strings.TrimPrefix(o.Key, customPrefix))
		nd, ok := m.nodes[id]
		if !ok || !nd.probe.Accept(o) {
			m.log.Debug("outcome_dropped", zap.String("key", o.Key))
			return
		}
		nd.checking = false
		n, found := m.recordEndpoint(ctx, id, o.Online, o.At)
		if !found {
			return
		}
		if !o.Online {
			m.diagnose(ctx, o, n.URL)
		}
		if o.Manual {
			if o.Online {
				m.enqueue(fmt.Sprintf("%s is online", label(n)), notify.SeverityInfo)
			} else {
				m.enqueue(fmt.Sprintf("%s is offline", label(n)), notify.SeverityError)
			}
		}

	default:
		m.log.Warn("outcome_unknown_key", zap.String("key", o.Key))
		return
	}
	m.publish()
}

func (m *Monitor) builtinByKey(key string) *builtin {
	for _, b := range m.builtins {
		if b.probe.Key() == key {
			return b
		}
	}
	return nil
}

func (m *Monitor) builtinResult(ctx context.Context, b *builtin, o probe.Outcome) {
	wasOK, checked := b.status.OK, b.status.Checked
	b.status.OK, b.status.Checked = o.Online, true

	if o.Online {
		b.status.LastSuccess = domain.Timestamp(o.At)
		if err := m.values.Set(ctx, b.LastKey, b.status.LastSuccess); err != nil {
			m.log.Error("last_success_save_error", zap.String("key", b.LastKey), zap.Error(err))
		}
		m.log.Debug("builtin_online", zap.String("check", b.Name), zap.String("at", b.status.LastSuccess))
		return
	}

	m.log.Debug("builtin_offline",
		zap.String("check", b.Name),
		zap.Int("status", o.StatusCode),
		zap.Error(o.Err),
	)
	if b.Client == nil {
		m.diagnose(ctx, o, b.Request.URL)
	}
	if m.cfg.Notification && (wasOK || !checked) {
		last := b.status.LastSuccess
		if last == "" {
			last = "never"
		}
		m.enqueue(fmt.Sprintf("Connection Lost to %s at %s", b.Label, last), notify.SeverityError)
	}
}

// recordEndpoint persists a result and mirrors it into the cache. found is
// false when the endpoint no longer exists.
func (m *Monitor) recordEndpoint(ctx context.Context, id domain.EndpointID, online bool, at time.Time) (domain.Endpoint, bool) {
	n, err := m.registry.RecordResult(ctx, id, online, at)
	if err != nil {
		m.log.Error("store_save_error", zap.String("id", string(id)), zap.Error(err))
	}
	if n.ID == "" {
		if err == nil {
			// removed by another writer
			m.forget(id)
			return n, false
		}
		cached, ok := repo.GetByID(m.endpoints, id)
		if !ok {
			return n, false
		}
		cached.Online = online
		if online {
			cached.LastPing = domain.Timestamp(at)
		}
		n = cached
	}
	m.endpoints = repo.Upsert(m.endpoints, n)
	return n, true
}

// diagnose logs DNS details for an offline result off the loop.
func (m *Monitor) diagnose(ctx context.Context, o probe.Outcome, rawURL string) {
	go func() {
		d := probe.Diagnose(ctx, m.resolver, rawURL)
		m.log.Warn("probe_offline",
			zap.String("key", o.Key),
			zap.String("url", rawURL),
			zap.Int("status", o.StatusCode),
			zap.String("dns_class", string(d.Class)),
			zap.Any("ips", d.IPs),
			zap.String("cname", d.CNAME),
			zap.Strings("nameservers", d.Nameservers),
			zap.String("resolver_error", d.ResolverError),
			zap.Error(o.Err),
		)
	}()
}

func (m *Monitor) enqueue(message string, severity notify.Severity) {
	select {
	case m.notes <- notification{message: message, severity: severity}:
	default:
		m.log.Warn("notification_dropped", zap.String("message", message))
	}
}

func (m *Monitor) deliver(ctx context.Context) {
	for n := range m.notes {
		if err := m.notifier.Notify(ctx, n.message, n.severity); err != nil {
			m.log.Warn("notify_failed", zap.String("message", n.message), zap.Error(err))
		}
	}
}

func (m *Monitor) snapshot() Snapshot {
	flags := make([]bool, 0, len(m.builtins)+len(m.endpoints))

	builtins := make([]BuiltInStatus, 0, len(m.builtins))
	for _, b := range m.builtins {
		builtins = append(builtins, b.status)
		flags = append(flags, b.status.OK)
	}
	endpoints := make([]EndpointStatus, 0, len(m.endpoints))
	for _, n := range m.endpoints {
		st := EndpointStatus{Endpoint: n}
		if nd, ok := m.nodes[n.ID]; ok {
			st.Checking = nd.checking
		}
		endpoints = append(endpoints, st)
		flags = append(flags, n.Online)
	}

	ind := domain.Aggregate(flags)
	return Snapshot{
		Indicator:       ind,
		Color:           ind.Color(),
		Visible:         m.cfg.Enabled && !(m.cfg.DisableInSession && m.inSession),
		BuiltIns:        builtins,
		Endpoints:       endpoints,
		AllOnline:       repo.AllOnline(m.endpoints),
		IntervalSeconds: m.sched.Interval().Seconds(),
		Settings:        m.cfg.Settings,
		UpdatedAt:       domain.Timestamp(m.now()),
	}
}

// publish hands the latest snapshot to every subscriber, replacing any
// snapshot it has not read yet.
func (m *Monitor) publish() {
	if len(m.subs) == 0 {
		return
	}
	s := m.snapshot()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func label(n domain.Endpoint) string {
	if n.Name != "" {
		return n.Name
	}
	return n.URL
}
