// Package protocol owns the modem daemon wire contract.
//
// Ownership boundary:
// - frame length-prefix primitives (frame)
// - argument/result encoding (parcel)
// - request and inbound envelopes
//
// Outbound payload:   [i32 serial][i32 kind][args]
// Inbound payload:    [i32 response type][body]
//   solicited body:   [i32 serial][i32 status][result]
//   unsolicited body: [i32 event kind][event data]
package protocol
