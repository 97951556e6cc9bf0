// Package bridge relays bytes between one remote interactive shell and one
// browser terminal connection.
//
// A [Bridge] owns a live remote session from the moment it is opened until
// teardown. The browser side is reached through a [ClientChannel]; the remote
// side through a [RemoteSession]. Neither interface depends on the concrete
// transport (WebSocket, SSH channel, Telnet socket).
//
// # Lifecycle
//
//  1. Created via [New] and stored in a [Registry] under a random identifier
//     → state=[StateCreated]. Remote output read in this state is dropped.
//
//  2. The browser attaches with the identifier. [Registry.Consume] hands out
//     the bridge exactly once and [Bridge.AttachClient] → state=[StateAttached].
//     The caller then runs [Bridge.Run] (pump task) and [Bridge.ServeClient]
//     (inbound task) concurrently.
//
//  3. Any failure on either side, or an explicit [Bridge.Close] →
//     state=[StateClosed]. Teardown runs once: the client channel is closed,
//     the remote session is closed and the identifier leaves the registry.
//     [StateClosed] is terminal.
//
// Bridges that are never attached are closed by [Registry.SweepStale].
//
// # Pump
//
// Each [Bridge.PumpOnce] runs a read step and a write step concurrently and
// waits for both. The read step forwards whatever the remote has buffered as a
// single client message; the write step joins the queued client input in FIFO
// order and writes it to the remote in one call.
//
// # Log Prefixes
//
//   - [bridge]   - relay errors and teardown
//   - [registry] - registration, consumption and stale sweeps
package bridge
