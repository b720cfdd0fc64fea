// Package transport implements the completion handlers that turn the results of
// asynchronous reads and writes into session events.
//
// The package focuses on:
//   - Dispatching read completions without monopolizing the boss goroutines
//     of the channel group
//   - Absorbing bursts of completions in a fixed size ring buffer
//   - Converting every failure of business processing into a session event
//
// Key Components:
//
//   - ReadCompletionHandler: Receives read completions from the boss goroutines.
//     Each completion is processed exactly once, either inline or after a handoff:
//
//     1. Nested completions (the context carries the recursion marker) are processed
//     inline, followed by one pending handed off completion.
//     2. If no admission permit is free, the completion is stored in the ring buffer
//     and the boss goroutine returns immediately.
//     3. Otherwise the boss goroutine marks its context, processes the completion and
//     one pending handed off completion, and releases the permit.
//
//   - Drain worker: A single goroutine started with the handler (if overflow is
//     enabled) that blocks on the ring buffer and processes every handed off
//     completion. It stops when the context given to NewReadCompletionHandler is done.
//
//   - WriteCompletionHandler: Releases the outbound flow limit and schedules the
//     next pending write. Writes bypass admission control and the ring buffer.
//
// Error Handling:
//
//	Errors returned (or panics raised) by Session.ReadFromChannel are reported as
//	InputException, write errors as OutputException. Afterwards the session is
//	closed without flushing. Errors of the close itself are only logged, so they
//	never hide the original cause nor stop a boss goroutine or the drain worker.
package transport
