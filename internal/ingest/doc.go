// Package ingest turns device telemetry delivered by Pub/Sub push
// subscriptions into InfluxDB points.
//
// A telemetry record is the text a terminal device publishes, for example
// "De Rong, 36.1, 62": a name, a body temperature and a heart rate.
package ingest
