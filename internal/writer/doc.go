// Package writer persists VI data in batches:
//
//   - vi_ticks: trade ticks observed inside a VI window
//   - vi_sessions: completed VI windows with their release reason
//
// Rows arrive by push from the subscription manager, accumulate in memory
// and flush on size or interval. All writes are append-only inserts with
// ON CONFLICT DO NOTHING.
package writer
