package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
)

const deviceID = "58f6b536-ca4c-43fd-880a-9df2501fc125"

func testDevice() DeviceDescriptor {
	return DeviceDescriptor{
		ID:        deviceID,
		Version:   "1441704616:890020555",
		Label:     "Example device",
		NodeID:    "5ce5e78a-7a2c-4e39-8f41-1c4ad5a2bb0d",
		Receivers: []string{"db9f46cf-2414-4e25-b6c6-2078159ae4b7"},
		Senders:   []string{"0c8bd6c2-3b7f-4e2f-8d3f-60f0c44a6a1d"},
		Controls: []Control{
			{Href: "http://10.0.0.5:8080/x-nmos/connection/v1.1/", Type: "urn:x-nmos:control:sr-ctrl/v1.1"},
			{Href: "ws://device.local:12000/x-nmos/ncp/v1.0", Type: ControlTypeNCP},
		},
	}
}

// fakeNode serves IS-04 Node API device resources and records request paths.
func fakeNode(t *testing.T, devices ...DeviceDescriptor) (*httptest.Server, func() []string) {
	t.Helper()

	var (
		mu    sync.Mutex
		paths []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/x-nmos/node/v1.3/devices/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		id := strings.TrimPrefix(r.URL.Path, "/x-nmos/node/v1.3/devices/")
		w.Header().Set("Content-Type", "application/json")
		if id == "" {
			_ = json.NewEncoder(w).Encode(devices)
			return
		}
		for _, d := range devices {
			if d.ID == id {
				_ = json.NewEncoder(w).Encode(d)
				return
			}
		}
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), paths...)
	}
}

func newClient(t *testing.T, url string, rewrite bool) *Client {
	t.Helper()
	c, err := New(config.RegistryConfig{URL: url + "/", Version: "v1.3", Timeout: 2, RewriteControlHost: rewrite})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "registry.local", "://bad"} {
		if _, err := New(config.RegistryConfig{URL: raw}); !errors.Is(err, ErrRequestFailed) {
			t.Errorf("New(%q) error = %v, want ErrRequestFailed", raw, err)
		}
	}
}

func TestDevice(t *testing.T) {
	srv, paths := fakeNode(t, testDevice())
	c := newClient(t, srv.URL, false)

	d, err := c.Device(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if d.Label != "Example device" || len(d.Controls) != 2 {
		t.Errorf("Device() = %+v", d)
	}
	if want := "/x-nmos/node/v1.3/devices/" + deviceID; len(paths()) != 1 || paths()[0] != want {
		t.Errorf("request paths = %v, want [%s]", paths(), want)
	}

	href, err := c.ControlURL(d)
	if err != nil {
		t.Fatalf("ControlURL() error = %v", err)
	}
	if href != "ws://device.local:12000/x-nmos/ncp/v1.0" {
		t.Errorf("ControlURL() = %q", href)
	}
}

func TestDevice_NotFound(t *testing.T) {
	srv, _ := fakeNode(t)
	c := newClient(t, srv.URL, false)

	_, err := c.Device(context.Background(), "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Device() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDevice_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newClient(t, srv.URL, false)

	_, err := c.Device(context.Background(), deviceID)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Device() error = %v, want ErrRequestFailed", err)
	}
}

func TestDevice_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>"},
		{name: "missing id", body: `{"label":"x","controls":[]}`},
		{name: "control without href", body: `{"id":"d1","controls":[{"type":"` + ControlTypeNCP + `"}]}`},
		{name: "control href not a url", body: `{"id":"d1","controls":[{"href":"nope","type":"` + ControlTypeNCP + `"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c := newClient(t, srv.URL, false)

			if _, err := c.Device(context.Background(), "d1"); !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("Device() error = %v, want ErrInvalidDevice", err)
			}
		})
	}
}

func TestDevices_SkipsInvalid(t *testing.T) {
	bad := DeviceDescriptor{ID: "bad", Controls: []Control{{Type: ControlTypeNCP}}}
	srv, paths := fakeNode(t, testDevice(), bad)
	c := newClient(t, srv.URL, false)

	got, err := c.Devices(context.Background())
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Devices() error = %v, want ErrInvalidDevice for the bad entry", err)
	}
	if len(got) != 1 || got[0].ID != deviceID {
		t.Errorf("Devices() = %+v, want only %s", got, deviceID)
	}
	if got := paths(); len(got) != 1 || got[0] != "/x-nmos/node/v1.3/devices/" {
		t.Errorf("list paths = %v", got)
	}
}

func TestControlURL_NoEndpoint(t *testing.T) {
	srv, _ := fakeNode(t)
	c := newClient(t, srv.URL, false)

	d := testDevice()
	d.Controls = d.Controls[:1]
	if _, err := c.ControlURL(d); !errors.Is(err, ErrNoControlEndpoint) {
		t.Errorf("ControlURL() error = %v, want ErrNoControlEndpoint", err)
	}
}

func TestControlURL_Rewrite(t *testing.T) {
	c, err := New(config.RegistryConfig{URL: "http://registry.example:8235", RewriteControlHost: true})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.ControlURL(testDevice())
	if err != nil {
		t.Fatalf("ControlURL() error = %v", err)
	}
	if want := "ws://registry.example:12000/x-nmos/ncp/v1.0"; got != want {
		t.Errorf("ControlURL() = %q, want %q", got, want)
	}
}

func TestRewriteHost(t *testing.T) {
	tests := []struct {
		in, host, want string
	}{
		{"ws://device.local:12000/x-nmos/ncp/v1.0", "127.0.0.1", "ws://127.0.0.1:12000/x-nmos/ncp/v1.0"},
		{"ws://device.local/x-nmos/ncp/v1.0", "nmos-cpp", "ws://nmos-cpp/x-nmos/ncp/v1.0"},
		{"wss://10.0.0.5:443/ncp", "::1", "wss://[::1]:443/ncp"},
	}
	for _, tt := range tests {
		got, err := RewriteHost(tt.in, tt.host)
		if err != nil {
			t.Errorf("RewriteHost(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RewriteHost(%q, %q) = %q, want %q", tt.in, tt.host, got, tt.want)
		}
	}
}

func TestHasResource(t *testing.T) {
	d := testDevice()
	if !d.HasResource(d.Receivers[0]) || !d.HasResource(d.Senders[0]) {
		t.Error("HasResource() = false for a listed resource")
	}
	if d.HasResource("other") {
		t.Error("HasResource() = true for an unlisted id")
	}
}
