package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
	"github.com/nerrad567/ncp-monitor/internal/mapping"
	"github.com/nerrad567/ncp-monitor/internal/registry"
)

// fakeResolver resolves from fixed maps.
type fakeResolver struct {
	mu            sync.Mutex
	targets       map[string]Target
	errs          map[string]error
	discovered    []Target
	discoverErr   error
	discoverCalls int
}

func (f *fakeResolver) Resolve(_ context.Context, dc config.DeviceConfig) (Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := DeviceKey(dc)
	if err := f.errs[key]; err != nil {
		return Target{}, err
	}
	t, ok := f.targets[key]
	if !ok {
		return Target{}, registry.ErrDeviceNotFound
	}
	return t, nil
}

func (f *fakeResolver) Discover(context.Context) ([]Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	return f.discovered, f.discoverErr
}

func (f *fakeResolver) DiscoverCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoverCalls
}

func newTestSupervisor(t *testing.T, cfg SupervisorConfig, resolver Resolver) *Supervisor {
	t.Helper()
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 10 * time.Millisecond
		cfg.MaxDelay = 50 * time.Millisecond
	}
	s := NewSupervisor(cfg, resolver, Deps{
		Encoder: mapping.NewEncoder(testCatalog()),
		Sink:    &captureSink{},
	})
	t.Cleanup(s.Stop)
	return s
}

func TestSupervisor_StartErrors(t *testing.T) {
	s := newTestSupervisor(t, SupervisorConfig{}, &fakeResolver{})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoDevices) {
		t.Errorf("Start() without devices = %v, want ErrNoDevices", err)
	}

	dev := newSimDevice(t)
	s = newTestSupervisor(t, SupervisorConfig{
		Devices: []config.DeviceConfig{{ID: "dev-1"}},
	}, &fakeResolver{targets: map[string]Target{"dev-1": {DeviceID: "dev-1", ControlURL: dev.URL()}}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
}

func TestSupervisor_IsolatesFailingDevice(t *testing.T) {
	dev := newSimDevice(t)
	resolver := &fakeResolver{
		targets: map[string]Target{"dev-ok": {DeviceID: "dev-ok", ControlURL: dev.URL()}},
		errs:    map[string]error{"dev-bad": registry.ErrRequestFailed},
	}
	s := newTestSupervisor(t, SupervisorConfig{
		Devices: []config.DeviceConfig{{ID: "dev-ok"}, {ID: "dev-bad"}},
	}, resolver)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "dev-ok ready", func() bool {
		st, err := s.Status("dev-ok")
		return err == nil && st.Ready()
	})
	waitFor(t, "dev-bad error", func() bool {
		st, _ := s.Status("dev-bad")
		return st.LastError != ""
	})

	statuses := s.Statuses()
	if len(statuses) != 2 || statuses[0].DeviceID != "dev-bad" || statuses[1].DeviceID != "dev-ok" {
		t.Errorf("Statuses() = %+v, want dev-bad then dev-ok", statuses)
	}
	if _, err := s.Status("missing"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Status(missing) = %v, want ErrUnknownDevice", err)
	}
}

func TestSupervisor_ReconnectsAfterDrop(t *testing.T) {
	dev := newSimDevice(t)
	s := newTestSupervisor(t, SupervisorConfig{
		Devices: []config.DeviceConfig{{ID: "dev-1"}},
	}, &fakeResolver{targets: map[string]Target{"dev-1": {DeviceID: "dev-1", ControlURL: dev.URL()}}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ready := func() bool { st, _ := s.Status("dev-1"); return st.Ready() }
	waitFor(t, "first session", ready)

	dev.drop()
	waitFor(t, "second connection", func() bool { return dev.Connections() == 2 })
	waitFor(t, "second session", ready)

	s.Stop()
	if st, _ := s.Status("dev-1"); st.Ready() {
		t.Errorf("Status() after Stop = %+v", st)
	}
}

func TestSupervisor_Rediscover(t *testing.T) {
	dev := newSimDevice(t)
	resolver := &fakeResolver{targets: map[string]Target{"dev-1": {DeviceID: "dev-1", ControlURL: dev.URL()}}}
	s := newTestSupervisor(t, SupervisorConfig{
		Devices: []config.DeviceConfig{{ID: "dev-1"}},
		// Long enough that only a rediscovery can trigger a quick reconnect.
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
	}, resolver)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first session", func() bool { st, _ := s.Status("dev-1"); return st.Ready() })

	if err := s.Rediscover("dev-1"); err != nil {
		t.Fatalf("Rediscover() error = %v", err)
	}
	waitFor(t, "reconnect", func() bool { return dev.Connections() == 2 })

	if err := s.Rediscover("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Rediscover(nope) = %v, want ErrUnknownDevice", err)
	}
	if err := s.Rediscover(""); err != nil {
		t.Errorf("Rediscover(all) = %v", err)
	}
	waitFor(t, "reconnect all", func() bool { return dev.Connections() == 3 })
}

func TestSupervisor_Discover(t *testing.T) {
	dev := newSimDevice(t)
	found := Target{DeviceID: "found-1", ControlURL: dev.URL()}
	resolver := &fakeResolver{
		targets:     map[string]Target{"found-1": found},
		discovered:  []Target{found},
		discoverErr: nil,
	}
	s := newTestSupervisor(t, SupervisorConfig{Discover: true}, resolver)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "discovered device ready", func() bool {
		st, err := s.Status("found-1")
		return err == nil && st.Ready()
	})

	// Listing again does not duplicate a known device.
	if err := s.Rediscover(""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second listing", func() bool { return resolver.DiscoverCalls() >= 2 })
	if n := len(s.Statuses()); n != 1 {
		t.Errorf("Statuses() = %d devices, want 1", n)
	}
}

func TestSupervisor_DiscoverRetries(t *testing.T) {
	resolver := &fakeResolver{discoverErr: registry.ErrRequestFailed}
	s := newTestSupervisor(t, SupervisorConfig{Discover: true}, resolver)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "discovery retries", func() bool { return resolver.DiscoverCalls() >= 3 })
}

func TestDeviceKey(t *testing.T) {
	tests := []struct {
		dc   config.DeviceConfig
		want string
	}{
		{config.DeviceConfig{ID: "id", Label: "l", ControlURL: "ws://x"}, "id"},
		{config.DeviceConfig{Label: "l", ControlURL: "ws://x"}, "l"},
		{config.DeviceConfig{ControlURL: "ws://x"}, "ws://x"},
	}
	for _, tt := range tests {
		if got := DeviceKey(tt.dc); got != tt.want {
			t.Errorf("DeviceKey(%+v) = %q, want %q", tt.dc, got, tt.want)
		}
	}
}
