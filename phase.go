package dartle

import "sort"

// Phase is a priority-ordered execution band. Tasks of an earlier phase
// always complete before any task of a later phase starts.
type Phase struct {
	Priority int
	Name     string
}

// Built-in phases, per spec.
var (
	Setup    = Phase{Priority: 100, Name: "setup"}
	Build    = Phase{Priority: 500, Name: "build"}
	TearDown = Phase{Priority: 1000, Name: "tearDown"}
)

// IsBefore reports whether p sorts strictly before other by priority.
func (p Phase) IsBefore(other Phase) bool { return p.Priority < other.Priority }

// IsAfter reports whether p sorts strictly after other by priority.
func (p Phase) IsAfter(other Phase) bool { return p.Priority > other.Priority }

// PhaseRegistry holds a set of phases: the built-ins plus any custom ones.
// It is an explicit value, never process-wide state, so registering a
// custom phase in one registry never affects another. NewGraph accepts a
// registry but does not consult it, and planning and execution take none:
// tasks are ordered by the Priority of the Phase each one declares.
type PhaseRegistry struct {
	phases []Phase
}

// NewPhaseRegistry creates a registry seeded with the three built-in
// phases plus any custom phases supplied by the caller.
func NewPhaseRegistry(custom ...Phase) *PhaseRegistry {
	r := &PhaseRegistry{phases: []Phase{Setup, Build, TearDown}}
	for _, p := range custom {
		r.Register(p)
	}
	return r
}

// Register adds a custom phase to the registry, replacing any existing
// phase with the same name.
func (r *PhaseRegistry) Register(p Phase) {
	for i, existing := range r.phases {
		if existing.Name == p.Name {
			r.phases[i] = p
			return
		}
	}
	r.phases = append(r.phases, p)
	sort.Slice(r.phases, func(i, j int) bool { return r.phases[i].Priority < r.phases[j].Priority })
}

// Phases returns the registry's phases, ordered by ascending priority.
func (r *PhaseRegistry) Phases() []Phase {
	out := make([]Phase, len(r.phases))
	copy(out, r.phases)
	return out
}
