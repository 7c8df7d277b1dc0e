/*
Package log provides structured logging for the visualization worker using
zerolog.

The package wraps zerolog behind a global logger initialized once via Init.
Production deployments use JSON output; development uses the console writer.
Every line carries the worker_id so logs from multiple workers sharing one
durable consumer can be separated, and child-logger helpers attach the fields
used throughout the worker:

	jobLog := log.WithJobID(job.JobID.String())
	jobLog.Info().Int("points", n).Msg("vectors fetched")

Log levels follow zerolog: debug for per-message detail (fetch batches,
progress publishes), info for job lifecycle events, warn for swallowed
failures (progress publish errors, per-cluster naming fallbacks), error for
job failures and broker errors.
*/
package log
