package jobs

import "fmt"

// Registry is a process-wide name -> Job mapping. Grounded in the
// teacher's JobRegistry: registration is one-shot at start-up (Register
// panics on a duplicate name or once the registry has been locked),
// lookup is lock-free afterward since the map is never mutated again.
type Registry struct {
	jobs   map[string]Job
	locked bool
}

// NewRegistry returns an empty, unlocked Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds a job definition under its own name. It panics if the
// registry has already been locked (start-up is over) or if the name is
// already taken — both are programmer errors, not runtime conditions, so
// failing loudly at start-up beats a silent overwrite.
func (r *Registry) Register(j Job) {
	if r.locked {
		panic(fmt.Sprintf("jobs: registry is locked, cannot register %q", j.Name))
	}
	if _, exists := r.jobs[j.Name]; exists {
		panic(fmt.Sprintf("jobs: job %q is already registered", j.Name))
	}
	r.jobs[j.Name] = j.WithDefaults()
}

// Lock freezes the registry. Call once at the end of start-up, after every
// job definition has registered itself; Get and List are safe for
// concurrent use without further synchronization once locked.
func (r *Registry) Lock() {
	r.locked = true
}

// Get returns the job registered under name, or false if none exists.
func (r *Registry) Get(name string) (Job, bool) {
	j, ok := r.jobs[name]
	return j, ok
}

// List returns the names of every registered job.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	return names
}
