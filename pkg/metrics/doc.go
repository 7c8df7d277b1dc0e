/*
Package metrics exposes the worker's Prometheus series.

The series names match the original deployment's dashboards: job counts and
durations under the visualization_transform_* prefix, broker message counters
under nats_messages_*, and worker state gauges (active jobs, readiness, last
job timestamp). Everything registers against the default registry and is
served from the health endpoint's /metrics route.
*/
package metrics
