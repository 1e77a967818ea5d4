package orchestrator

import (
	"fmt"

	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// DeviceError reports a capture or playback failure of the sound device. It
// aborts the current turn; the loop continues.
type DeviceError struct {
	// Op is "capture" or "playback".
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("orchestrator: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ResourceExhaustionError reports that available memory is below the floor
// of the smallest tier and no smaller model could be loaded. It is fatal.
type ResourceExhaustionError struct {
	// Tier is the tier that was resident when the floor was hit.
	Tier     stt.Tier
	Snapshot memgov.Snapshot
	Err      error
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("orchestrator: %d MB available with %s model resident: %v",
		e.Snapshot.AvailableMB, e.Tier, e.Err)
}

func (e *ResourceExhaustionError) Unwrap() error { return e.Err }
