package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
)

const (
	connectTimeout  = 10 * time.Second
	ackTimeout      = 5 * time.Second
	quiesceMillis   = 1000
	keepAlive       = 60 * time.Second
	defaultClientID = "ncpmonitor"
	maxQoS          = 2
)

// buildClientOptions translates the broker section of the config into paho
// options: clean session, auto-reconnect with the configured backoff, and
// TLS 1.2+ when broker.tls is set.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	firstRetry := time.Duration(cfg.Reconnect.InitialDelay) * time.Second
	if firstRetry <= 0 {
		firstRetry = time.Second
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(firstRetry).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// statusMessage is the retained payload on {prefix}/status.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) string {
	b, _ := json.Marshal(statusMessage{ //nolint:errcheck // plain strings always encode
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(b)
}

// configureLWT registers the retained QoS 1 will the broker publishes if
// the monitor vanishes without disconnecting.
func configureLWT(opts *pahomqtt.ClientOptions, willTopic, clientID string) {
	opts.SetWill(willTopic, statusPayload("offline", clientID, "unexpected_disconnect"), 1, true)
}

func buildOnlinePayload(clientID string) string {
	return statusPayload("online", clientID, "")
}

func buildOfflinePayload(clientID string) string {
	return statusPayload("offline", clientID, "graceful_shutdown")
}

// SetLibraryLogger routes paho's error, critical and warning output to l.
// It sets package-level paho state; call it once at startup.
func SetLibraryLogger(l pahomqtt.Logger) {
	pahomqtt.ERROR = l
	pahomqtt.CRITICAL = l
	pahomqtt.WARN = l
}

// await waits for a paho token and wraps failures in opErr.
func await(token pahomqtt.Token, opErr error) error {
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: %w after %v", opErr, ErrTimeout, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", opErr, err)
	}
	return nil
}
