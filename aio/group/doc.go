// Package group provides the asynchronous channel group of dSock: a fixed pool
// of boss goroutines delivering the completions of reads and writes.
//
// Blocking socket operations run on their own goroutine (parked on the Go
// netpoller); their result is queued and a boss goroutine invokes the
// completion handler. A read issued while a boss goroutine processes a
// completion completes synchronously on that goroutine if the connection's
// reader already holds buffered bytes. These nested completions are bounded by
// MaxInlineDepth, deeper reads fall back to the asynchronous path.
//
// After Close, completions still arriving are failed with ErrGroupClosed so no
// session is left waiting for a completion that never comes.
package group
