package session

// Capability reports whether a live backend is reachable right now.
// Probe is called before every backend operation and must not cache its
// answer; it returns false instead of failing.
type Capability interface {
	Probe() bool
}

// CapabilityFunc adapts a plain function to Capability
type CapabilityFunc func() bool

func (f CapabilityFunc) Probe() bool {
	if f == nil {
		return false
	}
	return f()
}

// Unavailable is a Capability that never finds a backend
var Unavailable Capability = CapabilityFunc(func() bool { return false })
