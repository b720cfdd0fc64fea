// Package connector holds the network specific parts of servers and clients.
//
// A connector creates listeners or dials connections for one network and
// upgrades established connections with the configured socket options:
//
//   - tcp: TCP_NODELAY, socket buffer sizes, keep-alive, linger and optionally
//     SO_REUSEPORT on the listening socket (linux, darwin and the BSDs).
//   - unix: Unix domain sockets; a stale socket file is removed before listening.
package connector
