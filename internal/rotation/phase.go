package rotation

import "fmt"

// Phase is the visual transition state of a rotator.
//
//	display -> out -> ready -> in -> display
type Phase int

const (
	// PhaseDisplay is the steady state: the current item is fully shown.
	PhaseDisplay Phase = iota
	// PhaseOut animates the outgoing item off screen.
	PhaseOut
	// PhaseReady holds the incoming item mounted off screen until its media is ready.
	PhaseReady
	// PhaseIn animates the incoming item on screen.
	PhaseIn
)

var phaseNames = [...]string{"display", "out", "ready", "in"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name so snapshots read naturally in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
