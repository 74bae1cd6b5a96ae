// Package influxdb wraps the InfluxDB v2 client for the state history
// recorder. Writes are non-blocking and batched; async write failures
// surface through an error callback rather than the write path.
package influxdb
