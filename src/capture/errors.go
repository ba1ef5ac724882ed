package capture

import (
	"errors"
	"fmt"
)

// Failure taxonomy for capture starts. Providers report opaque reason strings;
// MapReason folds them into these sentinels so callers can branch with
// errors.Is.
var (
	// ErrNotInGame means no capturable game session is in the foreground.
	ErrNotInGame = errors.New("capture: not in a running game")
	// ErrOutOfDiskSpace means the target volume cannot hold more video.
	ErrOutOfDiskSpace = errors.New("capture: out of disk space")
	// ErrNoPermission means the OS denied recording (screen capture consent,
	// elevated game, protected content).
	ErrNoPermission = errors.New("capture: no permission to record")
	// ErrAlreadyInProgress means another capture owns the encoder session.
	ErrAlreadyInProgress = errors.New("capture: stream already in progress")
)

// Provider reason strings, as delivered on error callbacks.
const (
	reasonNotInGame     = "NotInGame"
	reasonOutOfDisk     = "Out_Of_Disk_Space"
	reasonNoPermission  = "NoPermission"
	reasonStreamInProgr = "StreamingInProgress"
)

// MapReason folds a provider reason string into the failure taxonomy.
func MapReason(reason string) error {
	switch reason {
	case reasonNotInGame:
		return ErrNotInGame
	case reasonOutOfDisk:
		return ErrOutOfDiskSpace
	case reasonNoPermission:
		return ErrNoPermission
	case reasonStreamInProgr:
		return ErrAlreadyInProgress
	case "":
		return errors.New("capture: provider error with no reason")
	default:
		return fmt.Errorf("capture: provider error: %s", reason)
	}
}
