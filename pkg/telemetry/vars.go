package telemetry

// VarsProvider supplies variables merged into every payload.
type VarsProvider interface {
	Vars() map[string]any
}

// resolveVars accepts a literal map, a VarsProvider, or a constructor for one.
// Anything else contributes nothing.
func resolveVars(source any) map[string]any {
	switch s := source.(type) {
	case map[string]any:
		return s
	case VarsProvider:
		return s.Vars()
	case func() VarsProvider:
		if p := s(); p != nil {
			return p.Vars()
		}
	}
	return nil
}
