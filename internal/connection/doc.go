// Package connection implements the Stream Manager and its upstream client.
//
// The Stream Manager:
//   - Owns at most one WebSocket connection to the market-data feed
//   - Dials lazily when the first symbol gains a consumer
//   - Subscribes nothing until the feed answers auth_success, then sends the
//     whole interest registry in one subscribe frame
//   - Keeps the latest tick per watched symbol and pushes a full status
//     snapshot to every consumer on each change
//   - Tears the connection down when the last symbol loses its last consumer
//   - Never reconnects on its own after a failure; ManualReconnect is required
//
// Consumers hold a *Handle returned by Attach and release it when done.
package connection
