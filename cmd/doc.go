// Package cmd implements the command-line interface of dSock.
//
// The package is organized into several subpackages:
//
//   - serve: Starts an echo server with the configured dispatching, metrics and socket options
//   - bench: Measures round trip latency and throughput against an echo server
//   - util: Shared flags and configuration loading (internal use)
//
// All flags can also be set as environment variables with the DSOCK_ prefix
// (e.g. DSOCK_BOSS_THREADS=8), .env and .env.local files are loaded on start.
//
// See dsock -help for a list of all commands.
package cmd
