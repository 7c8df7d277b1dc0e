/*
Package types defines the wire-level data model of the visualization worker:
the inbound job envelope (snake_case JSON on the worker subject), the
outbound status envelope (camelCase JSON on the hierarchical status
subject), and the visualization and LLM configuration records with their
documented defaults.

DecodeJob is the single entry point for inbound messages. It distinguishes
malformed JSON (json package error types) from invariant violations
(*ValidationError); both are terminal for the message, which the worker
acknowledges so the broker does not redeliver a poison pill.
*/
package types
