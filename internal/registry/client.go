package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
)

// ControlTypeNCP is the IS-04 control type of an IS-12 endpoint.
const ControlTypeNCP = "urn:x-nmos:control:ncp/v1.0"

const (
	defaultVersion = "v1.3"
	defaultTimeout = 10 * time.Second

	// maxBodySize bounds a registry response.
	maxBodySize = 4 << 20
)

// Control is one entry in a device's controls list.
type Control struct {
	Href          string `json:"href" validate:"required,url"`
	Type          string `json:"type" validate:"required"`
	Authorization bool   `json:"authorization,omitempty"`
}

// DeviceDescriptor is the subset of an IS-04 device resource the monitor
// uses.
type DeviceDescriptor struct {
	ID          string              `json:"id" validate:"required"`
	Version     string              `json:"version"`
	Label       string              `json:"label"`
	Description string              `json:"description"`
	Type        string              `json:"type"`
	NodeID      string              `json:"node_id"`
	Senders     []string            `json:"senders"`
	Receivers   []string            `json:"receivers"`
	Controls    []Control           `json:"controls" validate:"dive"`
	Tags        map[string][]string `json:"tags,omitempty"`
}

// ControlEndpoint returns the href of the first control of the given type.
func (d DeviceDescriptor) ControlEndpoint(controlType string) (string, error) {
	for _, c := range d.Controls {
		if c.Type == controlType {
			return c.Href, nil
		}
	}
	return "", fmt.Errorf("%w: device %s", ErrNoControlEndpoint, d.ID)
}

// HasResource reports whether id is one of the device's senders or receivers.
func (d DeviceDescriptor) HasResource(id string) bool {
	for _, r := range d.Receivers {
		if r == id {
			return true
		}
	}
	for _, s := range d.Senders {
		if s == id {
			return true
		}
	}
	return false
}

// Client reads device resources from an IS-04 Node API.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	base        *url.URL
	version     string
	rewriteHost bool
	httpClient  *http.Client
	validate    *validator.Validate
}

// New creates a registry client. The URL must be absolute.
func New(cfg config.RegistryConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid registry url %q", ErrRequestFailed, cfg.URL)
	}

	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		base:        base,
		version:     version,
		rewriteHost: cfg.RewriteControlHost,
		httpClient:  &http.Client{Timeout: timeout},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Device fetches one device descriptor.
func (c *Client) Device(ctx context.Context, id string) (DeviceDescriptor, error) {
	var d DeviceDescriptor
	if err := c.get(ctx, "devices/"+url.PathEscape(id), &d); err != nil {
		return DeviceDescriptor{}, err
	}
	if err := c.check(d); err != nil {
		return DeviceDescriptor{}, err
	}
	return d, nil
}

// Devices lists every device the node exposes. Descriptors that fail
// validation are skipped; the error reports the first of them.
func (c *Client) Devices(ctx context.Context) ([]DeviceDescriptor, error) {
	var all []DeviceDescriptor
	if err := c.get(ctx, "devices/", &all); err != nil {
		return nil, err
	}

	valid := all[:0]
	var firstErr error
	for _, d := range all {
		if err := c.check(d); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		valid = append(valid, d)
	}
	return valid, firstErr
}

// ControlURL returns the device's IS-12 endpoint, with the host rewritten
// to the registry host when configured.
func (c *Client) ControlURL(d DeviceDescriptor) (string, error) {
	href, err := d.ControlEndpoint(ControlTypeNCP)
	if err != nil {
		return "", err
	}
	if !c.rewriteHost {
		return href, nil
	}
	return RewriteHost(href, c.base.Hostname())
}

// RewriteHost replaces the hostname of rawURL, keeping scheme, port and path.
func RewriteHost(rawURL, host string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: control href %q: %w", ErrInvalidDevice, rawURL, err)
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	return u.String(), nil
}

func (c *Client) check(d DeviceDescriptor) error {
	if err := c.validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidDevice, d.ID, err)
	}
	return nil
}

// get performs GET {base}/x-nmos/node/{version}/{path} and decodes JSON.
func (c *Client) get(ctx context.Context, path string, v any) error {
	endpoint := c.base.String() + "/x-nmos/node/" + c.version + "/" + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrRequestFailed, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrRequestFailed, endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: GET %s: status %d", ErrRequestFailed, endpoint, resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	return nil
}
