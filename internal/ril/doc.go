// Package ril holds the shared vocabulary of the modem control client.
//
// Ownership boundary:
// - request and event kind identifiers
// - result, event, completion and future shapes
// - the error taxonomy surfaced to callers
//
// Subpackages, from the wire inward:
// - transport: socket lifecycle and frame read loop
// - requests: serial allocation and in-flight table
// - dispatch: solicited/unsolicited routing and decoding
// - callctl: tone vs hold-class serialization
package ril
