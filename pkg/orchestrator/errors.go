package orchestrator

import (
	"fmt"
	"time"
)

// TurnTimeoutError reports a backend or synthesis call exceeding the turn
// budget. The turn ends failed; the session is unaffected.
type TurnTimeoutError struct {
	SessionID string
	Budget    time.Duration
}

func (e *TurnTimeoutError) Error() string {
	return fmt.Sprintf("turn exceeded %s budget for session %s", e.Budget, e.SessionID)
}
