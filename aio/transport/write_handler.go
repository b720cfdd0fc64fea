package transport

import "context"

// WriteCompletionHandler handles write completions. Writes are always issued
// by the session itself, so no admission control is applied: the next pending
// write is scheduled directly on the completing goroutine.
type WriteCompletionHandler struct{}

// Completed releases the flow limit of the session and continues writing
func (h WriteCompletionHandler) Completed(ctx context.Context, result int, s Session) {
	// a successful write always transfers at least one byte
	if result == 0 {
		Logger.Errorf("Write completion of session %d transferred 0 bytes", s.ID())
	}

	observe(s, "WriteMonitor", func(m Monitor) { m.WriteMonitor(s, result) })

	s.TryReleaseFlowLimit()
	if err := s.WriteToChannel(ctx); err != nil {
		h.Failed(ctx, err, s)
	}
}

// Failed reports a failed write to the processor and closes the session
func (h WriteCompletionHandler) Failed(_ context.Context, err error, s Session) {
	failSession(s, OutputException, err)
}
