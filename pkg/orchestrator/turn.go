package orchestrator

// TurnState is the orchestrator's position within one voice turn. Idle is
// terminal for a turn; the next turn starts back at listening.
type TurnState string

const (
	StateListening    TurnState = "listening"
	StateTranscribing TurnState = "transcribing"
	StateGenerating   TurnState = "generating"
	StateSpeaking     TurnState = "speaking"
	StateIdle         TurnState = "idle"
)

// canAdvance reports whether s -> to is a legal turn transition. Barge-in
// may drop back to listening from generating or speaking.
func (s TurnState) canAdvance(to TurnState) bool {
	switch s {
	case StateListening:
		return to == StateTranscribing
	case StateTranscribing:
		return to == StateGenerating || to == StateListening
	case StateGenerating:
		return to == StateSpeaking || to == StateIdle || to == StateListening
	case StateSpeaking:
		// speaking -> generating restarts after a discarded speculative call.
		return to == StateIdle || to == StateListening || to == StateGenerating
	case StateIdle:
		return to == StateListening
	default:
		return false
	}
}
