// Package yae implements a multi-tenant AI-agent service: a directed-graph
// workflow engine, a typed workflow façade with persisted runs, per-agent
// memory/message/file stores, a bounded tool-calling agent loop with
// streaming events, and a fixed-size worker pool arbitrating workflow
// execution.
//
// The root package is the library core. Persistence lives under store/
// (sqlite, postgres), the local file tree under files/local, the LLM
// adapter under provider/, OpenTelemetry wiring under observer/, and the
// HTTP surface under server/.
package yae
