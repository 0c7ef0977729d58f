package rategate

import "errors"

// ErrAcquireTimeout is returned when max_wait elapses without a successful
// acquisition. Callers must treat this as a hard failure and not call the
// external API — no slot is held on this path.
var ErrAcquireTimeout = errors.New("rategate: acquire timed out")
