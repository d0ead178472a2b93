package monitor

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
)

const (
	defaultInitialDelay = 5 * time.Second
	defaultMaxDelay     = 2 * time.Minute
)

// SupervisorConfig selects the devices to monitor.
type SupervisorConfig struct {
	// Devices are monitored explicitly.
	Devices []config.DeviceConfig

	// Discover adds every device the registry lists.
	Discover bool

	// DiscoverInterval re-lists the registry periodically. Zero lists once
	// and again only on Rediscover("").
	DiscoverInterval time.Duration

	// InitialDelay and MaxDelay bound the per-device reconnect backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	Options Options
}

// Supervisor runs one Monitor per device. A failing device never affects
// another: each reconnects on its own backoff.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg      SupervisorConfig
	resolver Resolver
	deps     Deps
	logger   Logger

	mu       sync.RWMutex
	monitors map[string]*Monitor
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	discoverNow chan struct{}
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(cfg SupervisorConfig, resolver Resolver, deps Deps) *Supervisor {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(defaultMaxDelay, cfg.InitialDelay)
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	return &Supervisor{
		cfg:         cfg,
		resolver:    resolver,
		deps:        deps,
		logger:      deps.Logger,
		monitors:    map[string]*Monitor{},
		discoverNow: make(chan struct{}, 1),
	}
}

// Start launches a monitor per configured device and, when enabled, the
// registry discovery loop. It returns immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.cfg.Devices) == 0 && !s.cfg.Discover {
		return ErrNoDevices
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, dc := range s.cfg.Devices {
		s.startLocked(ctx, dc, Target{DeviceID: DeviceKey(dc), Label: dc.Label, ControlURL: dc.ControlURL})
	}

	if s.cfg.Discover {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.discoverLoop(ctx)
		}()
	}

	s.logger.Info("supervisor started", "devices", len(s.cfg.Devices), "discover", s.cfg.Discover)
	return nil
}

// startLocked adds a monitor and its loop unless the key is already
// tracked. s.mu must be held.
func (s *Supervisor) startLocked(ctx context.Context, dc config.DeviceConfig, initial Target) bool {
	key := DeviceKey(dc)
	if _, ok := s.monitors[key]; ok {
		return false
	}
	m := New(initial, s.cfg.Options, s.deps)
	s.monitors[key] = m

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDevice(ctx, dc, m)
	}()
	return true
}

// runDevice resolves and runs one device until ctx is cancelled.
func (s *Supervisor) runDevice(ctx context.Context, dc config.DeviceConfig, m *Monitor) {
	key := DeviceKey(dc)
	backoff := s.cfg.InitialDelay

	for {
		target, err := s.resolver.Resolve(ctx, dc)
		if err == nil {
			m.SetTarget(target)
			err = m.Run(ctx)
		} else {
			m.setErr(err)
		}
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, ErrRediscoverRequested) {
			backoff = s.cfg.InitialDelay
			continue
		}
		if m.established() {
			backoff = s.cfg.InitialDelay
		}
		s.logger.Warn("device session ended, retrying",
			"device_id", key, "backoff", backoff.String(), "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.rediscover:
			timer.Stop()
			backoff = s.cfg.InitialDelay
			continue
		case <-timer.C:
		}

		backoff = min(time.Duration(float64(backoff)*1.5), s.cfg.MaxDelay)
	}
}

// discoverLoop lists the registry and starts a monitor for each new device.
func (s *Supervisor) discoverLoop(ctx context.Context) {
	var tick <-chan time.Time
	if s.cfg.DiscoverInterval > 0 {
		ticker := time.NewTicker(s.cfg.DiscoverInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	backoff := s.cfg.InitialDelay
	for {
		wait := tick
		var retry <-chan time.Time

		if err := s.discoverOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("registry discovery failed", "backoff", backoff.String(), "error", err)
			retry = time.After(backoff)
			backoff = min(time.Duration(float64(backoff)*1.5), s.cfg.MaxDelay)
		} else {
			backoff = s.cfg.InitialDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-s.discoverNow:
		case <-wait:
		case <-retry:
		}
	}
}

func (s *Supervisor) discoverOnce(ctx context.Context) error {
	targets, err := s.resolver.Discover(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	added := 0
	for _, t := range targets {
		if s.startLocked(ctx, config.DeviceConfig{ID: t.DeviceID}, t) {
			added++
			s.logger.Info("discovered device", "device_id", t.DeviceID, "label", t.Label, "control_url", t.ControlURL)
		}
	}
	s.logger.Info("registry discovery complete", "listed", len(targets), "added", added)
	return nil
}

// Stop cancels every monitor and waits for them to close their sessions.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("supervisor stopped")
}

// Statuses returns every monitor's status ordered by device id.
func (s *Supervisor) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]Status, 0, len(s.monitors))
	for _, key := range slices.Sorted(maps.Keys(s.monitors)) {
		statuses = append(statuses, s.monitors[key].Status())
	}
	return statuses
}

// Status returns one monitor's status.
func (s *Supervisor) Status(id string) (Status, error) {
	s.mu.RLock()
	m, ok := s.monitors[id]
	s.mu.RUnlock()
	if !ok {
		return Status{}, ErrUnknownDevice
	}
	return m.Status(), nil
}

// Rediscover restarts discovery of one device, or of every device and the
// registry listing when id is empty.
func (s *Supervisor) Rediscover(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id != "" {
		m, ok := s.monitors[id]
		if !ok {
			return ErrUnknownDevice
		}
		m.Rediscover()
		return nil
	}

	for _, m := range s.monitors {
		m.Rediscover()
	}
	if s.cfg.Discover {
		select {
		case s.discoverNow <- struct{}{}:
		default:
		}
	}
	return nil
}
