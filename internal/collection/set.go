package collection

// Set is a string set that remembers insertion order. It backs the cache's
// selection state, which is always replaced wholesale and never persisted.
type Set struct {
	order   []string
	members map[string]struct{}
}

// NewSet creates a set containing the given values, deduplicated.
func NewSet(values ...string) *Set {
	s := &Set{members: make(map[string]struct{}, len(values))}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts v if not already present.
func (s *Set) Add(v string) {
	if s.members == nil {
		s.members = make(map[string]struct{})
	}
	if _, ok := s.members[v]; ok {
		return
	}
	s.members[v] = struct{}{}
	s.order = append(s.order, v)
}

// Has reports whether v is a member.
func (s *Set) Has(v string) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[v]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Values returns the members in insertion order.
func (s *Set) Values() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
