/*
Package broker wraps the NATS JetStream connection behind the small surface
the worker needs: an idempotent bind-or-create of the shared durable pull
consumer, bounded Fetch with transient-error classification, per-message
ack/nak through the Message interface, and plain publish for status
envelopes.

Consumer binding retries the full bind-or-create sequence with a fixed delay
while the stream is still being provisioned at boot; any other error is
permanent. Fetch errors recognizable as cluster-unavailable surface as
*TransientError carrying the consecutive-error streak, which the worker loop
turns into a capped exponential delay via BackoffDelay.
*/
package broker
