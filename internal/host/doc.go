// Package host implements entity host adapters: the engine-facing side of
// a connection module.
//
// Three shapes are provided:
//
//   - InProcess calls a Go Module directly. Update batches are deep-copied
//     so the module never aliases engine data, and a panicking module is
//     turned into a rejected call.
//   - Remote speaks request/response over a Transport. Requests and
//     replies are CBOR with Core Deterministic Encoding. Server is the
//     module-side dispatcher; Loopback joins both halves in-process and
//     StreamTransport/Serve carry frames over any byte stream (a child
//     process's stdio, a socket).
//   - Builtin is the hub's own module. It keeps a subscription table and
//     runs ordered upgrade scripts.
//
// Every Remote and Server call is wrapped in an OpenTelemetry span named
// "entsync.host.<method>".
package host
