// Package common provides the configuration structures and the logging setup
// shared by all dSock packages.
//
// The package focuses on:
//   - Configuration structures for servers, clients, sessions and read dispatching
//   - Custom logging implementation integrated with the Dragonboat logger package
//
// Key Components:
//
//   - DispatchConfig: Controls the completion dispatcher - size of the boss pool,
//     whether completions may be handed off to the drain worker (Overflow), the
//     capacity of the handoff ring buffer and the number of admission permits.
//     AdmissionPermitsFor derives the permits from the boss pool size.
//
//   - SessionConfig: Read buffer size, outbound flow control water marks and
//     write timeouts of a single session.
//
//   - ServerConfig / ClientConfig: Network, endpoint and socket options of the
//     bootstrap components, including a readable String() representation.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger.ILogger factory, so every package logs in the same format.
package common
