package monitor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/domain"
	"github.com/hamed0406/servicestatus/internal/registry"
	"github.com/hamed0406/servicestatus/internal/repo"
	"github.com/hamed0406/servicestatus/internal/scheduler"
)

// do runs fn on the loop and waits for it. fn receives the loop's context,
// which outlives the caller's.
func (m *Monitor) do(ctx context.Context, fn func(run context.Context)) error {
	finished := make(chan struct{})
	cmd := func(run context.Context) {
		defer close(finished)
		fn(run)
	}
	select {
	case m.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrClosed
	case <-m.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// Add registers a custom endpoint and checks it right away. A failed write is
// logged; the endpoint stays in the cache.
func (m *Monitor) Add(ctx context.Context, name, url string) (domain.Endpoint, error) {
	var (
		out domain.Endpoint
		err error
	)
	if derr := m.do(ctx, func(run context.Context) {
		out, err = m.registry.Add(run, name, url)
		if out.ID == "" {
			return
		}
		if err != nil {
			m.log.Error("store_save_error", zap.String("id", string(out.ID)), zap.Error(err))
			err = nil
		}
		m.endpoints = repo.Upsert(m.endpoints, out)
		m.log.Info("endpoint_added", zap.String("id", string(out.ID)), zap.String("url", url))
		if url != "" {
			m.check(run, out, false)
			out, _ = repo.GetByID(m.endpoints, out.ID)
		}
		m.publish()
	}); derr != nil {
		return domain.Endpoint{}, derr
	}
	return out, err
}

func (m *Monitor) Rename(ctx context.Context, id domain.EndpointID, name string) (domain.Endpoint, error) {
	return m.edit(ctx, id, func(run context.Context) (domain.Endpoint, error) {
		return m.registry.Rename(run, id, name)
	}, false)
}

// Retarget changes the URL and checks the endpoint immediately.
func (m *Monitor) Retarget(ctx context.Context, id domain.EndpointID, url string) (domain.Endpoint, error) {
	return m.edit(ctx, id, func(run context.Context) (domain.Endpoint, error) {
		return m.registry.Retarget(run, id, url)
	}, true)
}

func (m *Monitor) edit(ctx context.Context, id domain.EndpointID, apply func(context.Context) (domain.Endpoint, error), recheck bool) (domain.Endpoint, error) {
	var (
		out domain.Endpoint
		err error
	)
	if derr := m.do(ctx, func(run context.Context) {
		out, err = apply(run)
		if errors.Is(err, registry.ErrNotFound) {
			m.forget(id)
			m.publish()
			return
		}
		if out.ID == "" {
			return
		}
		if err != nil {
			m.log.Error("store_save_error", zap.String("id", string(id)), zap.Error(err))
			err = nil
		}
		m.endpoints = repo.Upsert(m.endpoints, out)
		m.log.Info("endpoint_updated", zap.String("id", string(id)), zap.String("name", out.Name), zap.String("url", out.URL))

		if recheck {
			if out.URL == "" {
				if nd, ok := m.nodes[id]; ok {
					nd.probe.Cancel()
					nd.checking = false
				}
			} else {
				m.check(run, out, false)
				out, _ = repo.GetByID(m.endpoints, id)
			}
		}
		m.publish()
	}); derr != nil {
		return domain.Endpoint{}, derr
	}
	return out, err
}

// Remove cancels the endpoint's probe, then deletes it. Removing an unknown
// id is a no-op.
func (m *Monitor) Remove(ctx context.Context, id domain.EndpointID) error {
	return m.do(ctx, func(run context.Context) {
		m.forget(id)
		if err := m.registry.Remove(run, id); err != nil {
			m.log.Error("store_save_error", zap.String("id", string(id)), zap.Error(err))
		}
		m.log.Info("endpoint_removed", zap.String("id", string(id)))
		m.publish()
	})
}

// Ping checks one endpoint now and notifies the result.
func (m *Monitor) Ping(ctx context.Context, id domain.EndpointID) error {
	var err error
	if derr := m.do(ctx, func(run context.Context) {
		var n domain.Endpoint
		n, err = m.registry.Get(run, id)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				m.forget(id)
			}
			return
		}
		if n.URL == "" {
			err = ErrNoURL
			return
		}
		m.endpoints = repo.Upsert(m.endpoints, n)
		m.check(run, n, true)
		m.publish()
	}); derr != nil {
		return derr
	}
	return err
}

// PingAll runs a manual cycle over every check.
func (m *Monitor) PingAll() { m.sched.Trigger(scheduler.ReasonManual) }

// Open runs a cycle for a detail view being opened.
func (m *Monitor) Open() { m.sched.Trigger(scheduler.ReasonOpen) }

// ApplySettings swaps the user settings. A changed refresh rate reschedules
// the timer; a changed internet check rebuilds it.
func (m *Monitor) ApplySettings(ctx context.Context, s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return m.do(ctx, func(run context.Context) {
		next := m.cfg
		next.Settings = s
		m.applyConfig(next)
	})
}

// ApplyConfig swaps settings, built-in targets and the request timeout.
// Host-only keys are ignored.
func (m *Monitor) ApplyConfig(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return m.do(ctx, func(run context.Context) {
		next := m.cfg
		next.Settings = cfg.Settings
		next.Targets = cfg.Targets
		next.TimeoutSeconds = cfg.TimeoutSeconds
		m.applyConfig(next)
	})
}

func (m *Monitor) applyConfig(next config.Config) {
	prev := m.cfg
	m.cfg = next

	rebuilt := prev.InternetURL != next.InternetURL ||
		prev.ManualInternetCheck != next.ManualInternetCheck ||
		prev.Targets != next.Targets ||
		prev.TimeoutSeconds != next.TimeoutSeconds
	if rebuilt {
		m.builtins = m.newBuiltIns(m.builtins)
		m.log.Info("builtins_rebuilt", zap.Bool("manual_internet_check", next.ManualInternetCheck))
	}

	if scheduler.Normalize(prev.RefreshRate) != scheduler.Normalize(next.RefreshRate) {
		m.sched.Reconfigure(next.RefreshRate)
	} else if rebuilt {
		m.sched.Trigger(scheduler.ReasonReconfigure)
	}
	m.publish()
}

// SetInSession tells the monitor whether the host is in a session, which
// hides the indicator when disable_in_session is set.
func (m *Monitor) SetInSession(ctx context.Context, in bool) error {
	return m.do(ctx, func(run context.Context) {
		m.inSession = in
		m.publish()
	})
}

func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := m.do(ctx, func(run context.Context) { s = m.snapshot() })
	return s, err
}

// Subscribe returns a channel that always holds the most recent snapshot.
// The channel is closed by cancel or when the monitor stops.
func (m *Monitor) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	var (
		id int
		ch chan Snapshot
	)
	if err := m.do(ctx, func(run context.Context) {
		id = m.nextSub
		m.nextSub++
		ch = make(chan Snapshot, 1)
		ch <- m.snapshot()
		m.subs[id] = ch
	}); err != nil {
		return nil, func() {}, err
	}
	cancel := func() {
		_ = m.do(context.Background(), func(run context.Context) {
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}
