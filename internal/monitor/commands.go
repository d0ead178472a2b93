package monitor

import (
	"fmt"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/mqtt"
)

// CommandRediscover restarts discovery: ncpmonitor/command/rediscover for
// every device, ncpmonitor/command/rediscover/{device_id} for one.
const CommandRediscover = "rediscover"

// Rediscoverer restarts device discovery. *Supervisor implements it.
type Rediscoverer interface {
	Rediscover(deviceID string) error
}

// CommandHandler returns an MQTT handler for the command topics. Payloads
// are ignored; the topic carries the action and device.
func CommandHandler(topics mqtt.Topics, target Rediscoverer, logger Logger) mqtt.MessageHandler {
	if logger == nil {
		logger = nopLogger{}
	}
	return func(topic string, _ []byte) error {
		action, deviceID, ok := topics.ParseCommand(topic)
		if !ok {
			return fmt.Errorf("not a command topic: %s", topic)
		}

		switch action {
		case CommandRediscover:
			if err := target.Rediscover(deviceID); err != nil {
				return fmt.Errorf("rediscover %q: %w", deviceID, err)
			}
			logger.Info("rediscovery requested over mqtt", "device_id", deviceID)
			return nil
		default:
			return fmt.Errorf("unknown command %q", action)
		}
	}
}
