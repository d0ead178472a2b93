package influxdb

import (
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string {
	return "influxdb"
}

// WriteLine queues one pre-encoded record unchanged.
func (c *Client) WriteLine(line string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("%w: line contains a newline", ErrWriteFailed)
	}
	c.writer.WriteRecord(line)
	return nil
}

// WritePoint queues a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point. Dropped after Close or when fields
// is empty.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
