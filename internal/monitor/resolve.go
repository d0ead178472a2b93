package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
	"github.com/nerrad567/ncp-monitor/internal/registry"
)

// Resolver turns configured devices into control endpoints.
type Resolver interface {
	// Resolve returns the target for one configured device.
	Resolve(ctx context.Context, dc config.DeviceConfig) (Target, error)

	// Discover lists every device that advertises a control endpoint.
	Discover(ctx context.Context) ([]Target, error)
}

// RegistryResolver resolves devices through an IS-04 registry. The client
// may be nil when every device has a static control URL.
type RegistryResolver struct {
	client *registry.Client
	logger Logger
}

var _ Resolver = (*RegistryResolver)(nil)

// NewRegistryResolver creates a resolver over client, which may be nil.
func NewRegistryResolver(client *registry.Client, logger Logger) *RegistryResolver {
	if logger == nil {
		logger = nopLogger{}
	}
	return &RegistryResolver{client: client, logger: logger}
}

// DeviceKey is the name a configured device is tracked under: its id,
// else its label, else its control URL.
func DeviceKey(dc config.DeviceConfig) string {
	switch {
	case dc.ID != "":
		return dc.ID
	case dc.Label != "":
		return dc.Label
	default:
		return dc.ControlURL
	}
}

// Resolve implements Resolver. A static control URL is used as is and the
// registry only fills in metadata, best effort.
func (r *RegistryResolver) Resolve(ctx context.Context, dc config.DeviceConfig) (Target, error) {
	target := Target{DeviceID: DeviceKey(dc), Label: dc.Label, ControlURL: dc.ControlURL}

	if dc.ControlURL != "" {
		if r.client == nil || dc.ID == "" {
			return target, nil
		}
		d, err := r.client.Device(ctx, dc.ID)
		if err != nil {
			r.logger.Debug("registry metadata unavailable", "device_id", dc.ID, "error", err)
			return target, nil
		}
		return mergeDescriptor(target, d), nil
	}

	if r.client == nil {
		return Target{}, fmt.Errorf("%w: device %s", ErrNoRegistry, target.DeviceID)
	}
	d, err := r.client.Device(ctx, dc.ID)
	if err != nil {
		return Target{}, err
	}
	href, err := r.client.ControlURL(d)
	if err != nil {
		return Target{}, err
	}
	target.ControlURL = href
	return mergeDescriptor(target, d), nil
}

// Discover implements Resolver. Devices without an IS-12 control endpoint
// are skipped.
func (r *RegistryResolver) Discover(ctx context.Context) ([]Target, error) {
	if r.client == nil {
		return nil, ErrNoRegistry
	}
	devices, err := r.client.Devices(ctx)
	if err != nil && len(devices) == 0 {
		return nil, err
	}
	if err != nil {
		r.logger.Warn("registry listed invalid devices", "error", err)
	}

	var targets []Target
	for _, d := range devices {
		href, err := r.client.ControlURL(d)
		if err != nil {
			if !errors.Is(err, registry.ErrNoControlEndpoint) {
				r.logger.Warn("skipping device with bad control endpoint", "device_id", d.ID, "error", err)
			}
			continue
		}
		targets = append(targets, mergeDescriptor(Target{DeviceID: d.ID, ControlURL: href}, d))
	}
	return targets, nil
}

// mergeDescriptor fills the target from registry metadata. A configured
// label wins.
func mergeDescriptor(t Target, d registry.DeviceDescriptor) Target {
	if t.Label == "" {
		t.Label = d.Label
	}
	t.NodeID = d.NodeID
	t.Resources = slices.Concat(d.Receivers, d.Senders)
	return t
}
