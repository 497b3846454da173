package nodesync

import (
	"galley/internal/check"
)

// Phase is the step a sync is in. Steps run in declaration order and a
// sync never moves backwards.
type Phase uint8

const (
	PhasePrepare Phase = iota + 1
	PhaseResolve
	PhasePackage
	PhaseDeliver
	PhaseUploadConfig
	PhaseConverge
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseResolve:
		return "resolve"
	case PhasePackage:
		return "package"
	case PhaseDeliver:
		return "deliver"
	case PhaseUploadConfig:
		return "upload_config"
	case PhaseConverge:
		return "converge"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

func (p Phase) IsValid() bool {
	return p >= PhasePrepare && p <= PhaseDone
}

// Transition moves to the next step. Only the immediate successor is
// allowed.
func (p Phase) Transition(to Phase) Phase {
	ok := p.IsValid() && p != PhaseDone && to == p+1
	check.Assertf(ok, "sync phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}
