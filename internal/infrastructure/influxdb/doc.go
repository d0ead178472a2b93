// Package influxdb is the InfluxDB v2 sink, built on influxdb-client-go.
//
// Encoded status-monitor lines are handed to the non-blocking write API
// as raw records so their measurement, tags and nanosecond timestamps
// survive unchanged. Session health goes in as points. The library
// batches both and reports failed batches on its error channel, which is
// forwarded to the SetOnError callback.
package influxdb
