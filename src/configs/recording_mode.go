package configs

// RecordingMode controls what the orchestrator does when a match begins.
type RecordingMode string

const (
	// RecordingModeAuto starts recording as soon as a match is detected.
	RecordingModeAuto RecordingMode = "auto"
	// RecordingModeAsk tracks the match but asks the user before recording.
	RecordingModeAsk RecordingMode = "ask"
	// RecordingModeNever disables both recording and match tracking.
	RecordingModeNever RecordingMode = "never"
)

func AllRecordingModes() []RecordingMode {
	return []RecordingMode{RecordingModeAuto, RecordingModeAsk, RecordingModeNever}
}

func (m RecordingMode) IsValid() bool {
	switch m {
	case RecordingModeAuto, RecordingModeAsk, RecordingModeNever:
		return true
	default:
		return false
	}
}

func (m RecordingMode) String() string {
	return string(m)
}

// ParseRecordingMode maps stored values, including the names used by older
// releases, onto a RecordingMode. Unknown values fall back to auto.
func ParseRecordingMode(s string) RecordingMode {
	switch s {
	case "auto", "auto-record", "":
		return RecordingModeAuto
	case "ask", "alert", "ask-before-recording":
		return RecordingModeAsk
	case "never", "disabled", "never-record":
		return RecordingModeNever
	default:
		return RecordingModeAuto
	}
}
