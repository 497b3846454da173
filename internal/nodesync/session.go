package nodesync

import (
	"strings"

	"github.com/google/uuid"

	"galley/internal/remote"
)

// Session is everything one sync of one target needs. It is passed
// explicitly to every operation and never shared between targets.
type Session struct {
	// Target is the host string as given by the operator.
	Target  string
	Channel remote.Channel
	// Hostname is the name the target reports, set by a probe.
	Hostname string
	// LogLevel overrides the engine verbosity when set.
	LogLevel string
	RunID    string
}

func NewSession(target string, ch remote.Channel) Session {
	return Session{
		Target:  strings.TrimSpace(target),
		Channel: ch,
		RunID:   uuid.NewString(),
	}
}
