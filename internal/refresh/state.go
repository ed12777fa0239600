//go:generate go run golang.org/x/tools/cmd/stringer -type=State

package refresh

// State is the lifecycle state of a Scheduler.
type State int32

const (
	// Uninitialized is the state before the first refresh has started.
	Uninitialized State = iota
	// Initializing is the state while a refresh is in flight.
	Initializing
	// Ready is the state while a complete snapshot is installed and no refresh is running.
	Ready
	// Failed is the terminal state after the first refresh could not produce a snapshot.
	Failed
)
