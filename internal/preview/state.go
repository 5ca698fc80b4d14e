package preview

import "fmt"

// State is the active preview source.
type State int

const (
	None State = iota
	Camera
	File
	ProcessedCamera
	ProcessedFile
)

var stateNames = [...]string{
	None:            "None",
	Camera:          "Camera",
	File:            "File",
	ProcessedCamera: "ProcessedCamera",
	ProcessedFile:   "ProcessedFile",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Processed reports whether detections are being polled in this state.
func (s State) Processed() bool {
	return s == ProcessedCamera || s == ProcessedFile
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown preview state %q", b)
}
