package tsdb

import (
	"fmt"
	"strings"
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string {
	return "tsdb"
}

// WriteLine queues one pre-encoded record. A trailing newline is
// accepted; an embedded one is rejected with ErrWriteFailed.
func (c *Client) WriteLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("%w: line contains a newline", ErrWriteFailed)
	}
	return c.enqueue(line)
}

// WritePoint queues a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point. Points without a usable field are
// dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	line, err := encodePoint(measurement, tags, fields, timestamp)
	if err != nil {
		return
	}
	_ = c.enqueue(line)
}

// encodePoint renders one point with tags and fields in key order and a
// nanosecond timestamp.
func encodePoint(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) (string, error) {
	m, err := protocol.New(measurement, tags, fields, ts)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	enc := protocol.NewEncoder(&b)
	enc.SetFieldSortOrder(protocol.SortFields)
	enc.SetFieldTypeSupport(protocol.UintSupport)
	if _, err := enc.Encode(m); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}
