// Package remote opens interactive shell sessions on remote hosts over SSH or
// Telnet and exposes them through one uniform, non-blocking contract.
//
// The protocol is resolved once in [Open]; callers only see [Session]:
//
//   - [Session.TryRead] returns whatever output is buffered, or nothing,
//     without blocking. A background goroutine drains the transport into a
//     bounded buffer so a slow consumer applies back-pressure to the remote
//     side instead of growing memory.
//   - [Session.Write] sends input; it fails with [ErrClosed] once the session
//     has been closed or the remote end went away.
//   - [Session.IsOpen] reports liveness without side effects.
//   - [Session.Close] is idempotent.
//
// Establishment failures are reported as [*ConnectError] carrying a
// [FailureKind] suitable for showing to the user.
//
// # Log Prefixes
//
// All log lines use the [remote] prefix.
package remote
