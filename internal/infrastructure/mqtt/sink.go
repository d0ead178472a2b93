package mqtt

import "strings"

// Name identifies the client when it serves as a metrics sink.
func (c *Client) Name() string {
	return "mqtt"
}

// WriteLine publishes one encoded line to {prefix}/metrics/{measurement}
// with QoS 0. Metrics are high-rate and idempotent per timestamp, so they
// are never retained.
func (c *Client) WriteLine(line string) error {
	line = strings.TrimRight(line, "\n")
	if line == "" {
		return nil
	}
	return c.Publish(c.topics.Metrics(measurement(line)), []byte(line), 0, false)
}

// measurement returns the measurement name of a line: everything up to the
// first unescaped comma or space.
func measurement(line string) string {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case ',', ' ':
			return strings.ReplaceAll(line[:i], `\`, "")
		}
	}
	return line
}
