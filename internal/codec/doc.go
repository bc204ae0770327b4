// Package codec translates between upstream feed frames and market-stream events.
//
// Inbound frames are JSON objects discriminated by "type":
//   - auth_success, auth_error: the handshake outcome
//   - market_data: zero or more per-symbol updates
//   - error: an upstream error, possibly a connection-limit rejection
//
// Outbound frames are subscribe/unsubscribe requests carrying a symbol batch.
package codec
