package monitor

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/domain"
	"github.com/hamed0406/servicestatus/internal/notify"
	"github.com/hamed0406/servicestatus/internal/probe"
	"github.com/hamed0406/servicestatus/internal/repo/file"
	"github.com/hamed0406/servicestatus/internal/repo/memory"
)

// ---- fakes ----

// fakeClient answers 200 unless a code is set; held URLs block until released
// or cancelled.
type fakeClient struct {
	mu        sync.Mutex
	codes     map[string]int
	hold      map[string]chan struct{}
	calls     map[string]int
	cancelled int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		codes: map[string]int{},
		hold:  map[string]chan struct{}{},
		calls: map[string]int{},
	}
}

func (f *fakeClient) Do(ctx context.Context, r probe.Request) probe.Response {
	f.mu.Lock()
	f.calls[r.URL]++
	code, ok := f.codes[r.URL]
	gate := f.hold[r.URL]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.cancelled++
			f.mu.Unlock()
			return probe.Response{Err: ctx.Err()}
		}
	}
	if !ok {
		code = 200
	}
	return probe.Response{OK: true, StatusCode: code}
}

func (f *fakeClient) set(url string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[url] = code
}

func (f *fakeClient) holdURL(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[url] = ch
	return ch
}

func (f *fakeClient) callsTo(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeClient) cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// vanishingStore drops one record from every load that follows the armed one,
// as if another writer deleted it mid-cycle.
type vanishingStore struct {
	*memory.Store
	gone domain.EndpointID

	mu       sync.Mutex
	armed    bool
	dropping bool
}

func (v *vanishingStore) arm() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.armed = true
}

func (v *vanishingStore) Load(ctx context.Context) ([]domain.Endpoint, error) {
	nodes, err := v.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dropping {
		out := nodes[:0]
		for _, n := range nodes {
			if n.ID != v.gone {
				out = append(out, n)
			}
		}
		nodes = out
	}
	if v.armed {
		v.armed, v.dropping = false, true
	}
	return nodes, nil
}

type note struct {
	message  string
	severity notify.Severity
}

type recorder struct{ ch chan note }

func newRecorder() *recorder { return &recorder{ch: make(chan note, 64)} }

func (r *recorder) Notify(_ context.Context, message string, severity notify.Severity) error {
	r.ch <- note{message: message, severity: severity}
	return nil
}

func (r *recorder) expect(t *testing.T, contains string, severity notify.Severity) {
	t.Helper()
	select {
	case n := <-r.ch:
		if !strings.Contains(n.message, contains) || n.severity != severity {
			t.Fatalf("want %s notification containing %q, got %s %q", severity, contains, n.severity, n.message)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification containing %q", contains)
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case n := <-r.ch:
		t.Fatalf("unexpected notification %s %q", n.severity, n.message)
	case <-time.After(150 * time.Millisecond):
	}
}

type noDNS struct{}

func dnsErr(host string) error {
	return &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (noDNS) LookupIP(_ context.Context, _, host string) ([]net.IP, error) {
	return nil, dnsErr(host)
}
func (noDNS) LookupCNAME(_ context.Context, host string) (string, error) { return "", dnsErr(host) }
func (noDNS) LookupNS(_ context.Context, name string) ([]*net.NS, error) { return nil, dnsErr(name) }

// ---- helpers ----

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.RefreshRate = 3600
	cfg.Notification = false
	return cfg
}

func start(t *testing.T, opts Options) *Monitor {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = noDNS{}
	}
	if opts.Config.RefreshRate == 0 {
		opts.Config = testConfig()
	}
	m := New(opts)
	go func() { _ = m.Run(context.Background()) }()
	t.Cleanup(m.Close)
	return m
}

func waitSnapshot(t *testing.T, m *Monitor, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s, err := m.Snapshot(context.Background())
		if err == nil && cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met; last snapshot %+v err=%v", s, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func allChecked(s Snapshot) bool {
	for _, b := range s.BuiltIns {
		if !b.Checked {
			return false
		}
	}
	return len(s.BuiltIns) == 4
}

func endpoint(s Snapshot, id domain.EndpointID) (EndpointStatus, bool) {
	for _, e := range s.Endpoints {
		if e.ID == id {
			return e, true
		}
	}
	return EndpointStatus{}, false
}

// ---- tests ----

func TestBuiltIns_PartialWhenOneFails(t *testing.T) {
	cfg := testConfig()
	client := newFakeClient()
	client.set(cfg.Targets.AuthURL, 500)

	m := start(t, Options{Config: cfg, Client: client})
	s := waitSnapshot(t, m, allChecked)

	if s.Indicator != domain.Partial || s.Color != "orange" {
		t.Fatalf("want partial/orange, got %s/%s", s.Indicator, s.Color)
	}
}

func TestBuiltIns_AllDownAndAllUp(t *testing.T) {
	cfg := testConfig()
	down := newFakeClient()
	for _, b := range BuiltIns(cfg) {
		down.set(b.Request.URL, 503)
	}
	m := start(t, Options{Config: cfg, Client: down})
	if s := waitSnapshot(t, m, allChecked); s.Indicator != domain.AllDown {
		t.Fatalf("want all_down, got %s", s.Indicator)
	}

	up := start(t, Options{Config: cfg, Client: newFakeClient()})
	if s := waitSnapshot(t, up, allChecked); s.Indicator != domain.AllUp {
		t.Fatalf("want all_up, got %s", s.Indicator)
	}
}

func TestBuiltIns_LastSuccessPersisted(t *testing.T) {
	values := memory.New()
	m := start(t, Options{Client: newFakeClient(), Values: values})
	waitSnapshot(t, m, allChecked)

	for _, key := range []string{"last_internet_ok", "last_platform_ok", "last_sdk_ok", "last_auth_ok"} {
		v, _ := values.Get(context.Background(), key)
		if _, err := time.ParseInLocation(domain.TimestampLayout, v, time.Local); err != nil {
			t.Fatalf("%s: bad timestamp %q", key, v)
		}
	}
}

func TestBuiltIns_LastSuccessLoadedAtStartup(t *testing.T) {
	cfg := testConfig()
	values := memory.New()
	_ = values.Set(context.Background(), "last_auth_ok", "2025-01-02 03:04:05")
	client := newFakeClient()
	client.set(cfg.Targets.AuthURL, 500)
	rec := newRecorder()
	cfg.Notification = true

	m := start(t, Options{Config: cfg, Client: client, Values: values, Notifier: rec})
	waitSnapshot(t, m, allChecked)
	rec.expect(t, "Connection Lost to Argon Server at 2025-01-02 03:04:05", notify.SeverityError)
}

func TestBuiltIns_NotifyOnlyOnTransition(t *testing.T) {
	cfg := testConfig()
	cfg.Notification = true
	client := newFakeClient()
	client.set(cfg.Targets.SDKURL, 500)
	rec := newRecorder()

	m := start(t, Options{Config: cfg, Client: client, Notifier: rec})
	waitSnapshot(t, m, allChecked)
	rec.expect(t, "Connection Lost to GeodeSDK Server at never", notify.SeverityError)

	before := client.callsTo(cfg.Targets.SDKURL)
	m.PingAll()
	waitSnapshot(t, m, func(Snapshot) bool { return client.callsTo(cfg.Targets.SDKURL) > before })
	rec.expectNone(t)
}

func TestAddProbeRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "status.json")
	store := file.New(path, zap.NewNop())

	m := start(t, Options{Client: newFakeClient(), Store: store})
	n, err := m.Add(ctx, "svc", "https://example.com")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n.Online || n.LastPing != "" {
		t.Fatalf("new endpoint should start offline and unpinged: %+v", n)
	}

	waitSnapshot(t, m, func(s Snapshot) bool {
		e, ok := endpoint(s, n.ID)
		return ok && e.Online
	})

	nodes, _ := file.New(path, zap.NewNop()).Load(ctx)
	if len(nodes) != 1 || !nodes[0].Online || nodes[0].LastPing == "" {
		t.Fatalf("result not persisted: %+v", nodes)
	}
}

func TestInvalidURL_NotifiesOncePerInvalidRun(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	m := start(t, Options{Client: newFakeClient(), Notifier: rec})

	n, err := m.Add(ctx, "svc", "https://good.example")
	if err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, m, func(s Snapshot) bool {
		e, _ := endpoint(s, n.ID)
		return e.Online
	})

	got, err := m.Retarget(ctx, n.ID, "not-a-url")
	if err != nil {
		t.Fatal(err)
	}
	if got.Online {
		t.Fatalf("invalid url must be offline immediately: %+v", got)
	}
	rec.expect(t, "Invalid URL", notify.SeverityError)

	if _, err := m.Retarget(ctx, n.ID, "also-not-a-url"); err != nil {
		t.Fatal(err)
	}
	rec.expectNone(t)

	if _, err := m.Retarget(ctx, n.ID, "https://good.example"); err != nil {
		t.Fatal(err)
	}
	rec.expectNone(t)

	if _, err := m.Retarget(ctx, n.ID, "still bad"); err != nil {
		t.Fatal(err)
	}
	rec.expect(t, "Invalid URL", notify.SeverityError)
	rec.expectNone(t)
}

func TestPing_ChecksAndNotifies(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	rec := newRecorder()
	m := start(t, Options{Client: client, Notifier: rec})

	up, _ := m.Add(ctx, "up", "https://up.example")
	gate := client.holdURL("https://up.example")
	if err := m.Ping(ctx, up.ID); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s, _ := m.Snapshot(ctx)
	if e, _ := endpoint(s, up.ID); !e.Checking {
		t.Fatalf("endpoint should be checking while a manual ping is in flight")
	}
	close(gate)
	rec.expect(t, "up is online", notify.SeverityInfo)
	waitSnapshot(t, m, func(s Snapshot) bool {
		e, _ := endpoint(s, up.ID)
		return !e.Checking && e.Online
	})

	client.set("https://down.example", 503)
	down, _ := m.Add(ctx, "down", "https://down.example")
	if err := m.Ping(ctx, down.ID); err != nil {
		t.Fatal(err)
	}
	rec.expect(t, "down is offline", notify.SeverityError)
}

func TestPing_Errors(t *testing.T) {
	ctx := context.Background()
	m := start(t, Options{Client: newFakeClient()})

	if err := m.Ping(ctx, "missing"); err == nil {
		t.Fatalf("want error for unknown id")
	}
	blank, _ := m.Add(ctx, "blank", "")
	if err := m.Ping(ctx, blank.ID); !errors.Is(err, ErrNoURL) {
		t.Fatalf("want ErrNoURL, got %v", err)
	}
}

func TestRemove_CancelsInFlightProbe(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := memory.New()
	gate := client.holdURL("https://slow.example")
	defer close(gate)

	m := start(t, Options{Client: client, Store: store})
	n, _ := m.Add(ctx, "slow", "https://slow.example")
	waitSnapshot(t, m, func(Snapshot) bool { return client.callsTo("https://slow.example") > 0 })

	if err := m.Remove(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, m, func(Snapshot) bool { return client.cancels() > 0 })

	nodes, _ := store.Load(ctx)
	if len(nodes) != 0 {
		t.Fatalf("endpoint should be gone: %+v", nodes)
	}
	if s, _ := m.Snapshot(ctx); len(s.Endpoints) != 0 {
		t.Fatalf("snapshot still lists removed endpoint: %+v", s.Endpoints)
	}
}

func TestClose_DropsInFlightResults(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := memory.New()
	gate := client.holdURL("https://slow.example")

	m := start(t, Options{Client: client, Store: store})
	n, _ := m.Add(ctx, "slow", "https://slow.example")
	waitSnapshot(t, m, func(Snapshot) bool { return client.callsTo("https://slow.example") > 0 })

	m.Close()
	deadline := time.Now().Add(2 * time.Second)
	for client.cancels() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight request was not cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)
	time.Sleep(50 * time.Millisecond)

	nodes, _ := store.Load(ctx)
	if len(nodes) != 1 || nodes[0].ID != n.ID || nodes[0].Online || nodes[0].LastPing != "" {
		t.Fatalf("result applied after close: %+v", nodes)
	}
	if _, err := m.Snapshot(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed after Close, got %v", err)
	}
}

func TestRename_PreservesStatus(t *testing.T) {
	ctx := context.Background()
	m := start(t, Options{Client: newFakeClient()})
	n, _ := m.Add(ctx, "old", "https://a.example")
	waitSnapshot(t, m, func(s Snapshot) bool {
		e, _ := endpoint(s, n.ID)
		return e.Online
	})

	got, err := m.Rename(ctx, n.ID, "new")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "new" || !got.Online || got.LastPing == "" {
		t.Fatalf("rename lost probe state: %+v", got)
	}
	if _, err := m.Rename(ctx, "missing", "x"); err == nil {
		t.Fatalf("want error for unknown id")
	}
}

func TestTick_RetiresEndpointsRemovedFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := start(t, Options{Client: newFakeClient(), Store: store})
	if _, err := m.Add(ctx, "a", "https://a.example"); err != nil {
		t.Fatal(err)
	}

	// another writer empties the document
	_ = store.Save(ctx, nil)
	m.Open()
	waitSnapshot(t, m, func(s Snapshot) bool { return len(s.Endpoints) == 0 })
}

func TestTick_ChecksEveryEndpointWhenOneVanishesMidCycle(t *testing.T) {
	ctx := context.Background()
	store := &vanishingStore{Store: memory.New(), gone: "a"}
	_ = store.Store.Save(ctx, []domain.Endpoint{
		{ID: "a", Name: "a", URL: "not a url"},
		{ID: "b", Name: "b", URL: "https://b.example"},
		{ID: "c", Name: "c", URL: "https://c.example"},
	})
	client := newFakeClient()
	m := start(t, Options{Client: client, Store: store})
	waitSnapshot(t, m, func(s Snapshot) bool {
		b, _ := endpoint(s, "b")
		c, _ := endpoint(s, "c")
		return allChecked(s) && b.Online && c.Online
	})

	// the tick's own reload still sees a; the result write for a does not
	store.arm()
	m.PingAll()
	waitSnapshot(t, m, func(s Snapshot) bool {
		_, ok := endpoint(s, "a")
		return !ok && client.callsTo("https://b.example") == 2 && client.callsTo("https://c.example") >= 2
	})
	time.Sleep(50 * time.Millisecond)
	if got := client.callsTo("https://c.example"); got != 2 {
		t.Fatalf("c checked %d times, want 2", got)
	}
}

func TestAggregate_IncludesCustomEndpoints(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.set("https://down.example", 500)
	m := start(t, Options{Client: client})
	waitSnapshot(t, m, allChecked)

	n, _ := m.Add(ctx, "down", "https://down.example")
	s := waitSnapshot(t, m, func(s Snapshot) bool {
		e, ok := endpoint(s, n.ID)
		return ok && !e.Checking && client.callsTo("https://down.example") > 0
	})
	if s.Indicator != domain.Partial || s.AllOnline {
		t.Fatalf("want partial with a down custom endpoint, got %s all_online=%v", s.Indicator, s.AllOnline)
	}
}

func TestApplySettings(t *testing.T) {
	ctx := context.Background()
	m := start(t, Options{Client: newFakeClient()})

	s := config.DefaultSettings()
	s.RefreshRate = 10
	if err := m.ApplySettings(ctx, s); err != nil {
		t.Fatal(err)
	}
	snap, _ := m.Snapshot(ctx)
	if snap.IntervalSeconds != 10 {
		t.Fatalf("interval not applied: %v", snap.IntervalSeconds)
	}

	s.RefreshRate = -1
	_ = m.ApplySettings(ctx, s)
	if snap, _ := m.Snapshot(ctx); snap.IntervalSeconds != 30 {
		t.Fatalf("non-positive rate should fall back to 30s, got %v", snap.IntervalSeconds)
	}

	s.Opacity = 999
	if err := m.ApplySettings(ctx, s); err == nil {
		t.Fatalf("want validation error")
	}
}

func TestApplySettings_ManualInternetCheckUsesDialer(t *testing.T) {
	ctx := context.Background()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	cfg := testConfig()
	cfg.Targets.ReachabilityAddress = ln.Addr().String()
	client := newFakeClient()
	client.set(cfg.InternetURL, 500)
	m := start(t, Options{Config: cfg, Client: client})

	s := waitSnapshot(t, m, allChecked)
	if s.BuiltIns[0].OK {
		t.Fatalf("http internet check should be down")
	}

	settings := cfg.Settings
	settings.ManualInternetCheck = true
	if err := m.ApplySettings(ctx, settings); err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, m, func(s Snapshot) bool { return s.BuiltIns[0].OK })
}

func TestSession_HidesIndicator(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.DisableInSession = true
	m := start(t, Options{Config: cfg, Client: newFakeClient()})

	if s, _ := m.Snapshot(ctx); !s.Visible {
		t.Fatalf("indicator should be visible outside a session")
	}
	_ = m.SetInSession(ctx, true)
	if s, _ := m.Snapshot(ctx); s.Visible {
		t.Fatalf("indicator should be hidden in a session")
	}
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	m := start(t, Options{Client: newFakeClient()})

	ch, cancel, err := m.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case s := <-ch:
			done = allChecked(s)
		case <-deadline:
			t.Fatalf("never saw a fully checked snapshot")
		}
	}

	cancel()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("channel not closed after cancel")
		}
	}
}

func TestCommands_WithoutRun(t *testing.T) {
	m := New(Options{Client: newFakeClient(), Logger: zap.NewNop()})

	ctx, cancelCtx := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelCtx()
	_, unsubscribe, err := m.Subscribe(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded before Run, got %v", err)
	}
	unsubscribe()

	m.Close()
	errs := make(chan error, 2)
	go func() {
		_, _, err := m.Subscribe(context.Background())
		errs <- err
	}()
	go func() {
		_, err := m.Snapshot(context.Background())
		errs <- err
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("want ErrClosed after Close, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("command blocked on a closed monitor that never ran")
		}
	}
}

func TestRun_Twice(t *testing.T) {
	m := start(t, Options{Client: newFakeClient()})
	waitSnapshot(t, m, func(Snapshot) bool { return true })
	if err := m.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("want ErrRunning, got %v", err)
	}
}
