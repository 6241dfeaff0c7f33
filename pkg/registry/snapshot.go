package registry

// Snapshot is an immutable view of the backend set at one generation. Every
// read-side consumer (router, handler, health checker) holds a Snapshot
// obtained from Registry.Current and is unaffected by any later swap
// (spec.md ยง4.5, ยง8 "reader holding generation g sees a stable backend set").
type Snapshot struct {
	generation uint64
	byID       map[string]*Descriptor
	byTool     map[string][]string // tool name -> backend ids advertising it
	ring       *Ring
}

// Generation returns the monotonically increasing snapshot version.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Get returns the descriptor for id, or nil if it is not part of this
// snapshot.
func (s *Snapshot) Get(id string) *Descriptor { return s.byID[id] }

// All returns every descriptor in this snapshot, in no particular order.
func (s *Snapshot) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, d)
	}
	return out
}

// CandidatesForTool returns the ids of backends advertising tool name, or
// nil if none do.
func (s *Snapshot) CandidatesForTool(name string) []string { return s.byTool[name] }

// Ring returns the consistent-hash ring built over this snapshot's backend
// ids.
func (s *Snapshot) Ring() *Ring { return s.ring }

// newSnapshot builds a Snapshot from a descriptor set, indexing tools and
// constructing the hash ring in the same pass.
func newSnapshot(generation uint64, descriptors []*Descriptor, vnodes int) *Snapshot {
	byID := make(map[string]*Descriptor, len(descriptors))
	byTool := make(map[string][]string)
	ids := make([]string, 0, len(descriptors))

	for _, d := range descriptors {
		byID[d.ID] = d
		ids = append(ids, d.ID)
		for _, tool := range d.Tools {
			byTool[tool] = append(byTool[tool], d.ID)
		}
	}

	return &Snapshot{
		generation: generation,
		byID:       byID,
		byTool:     byTool,
		ring:       NewRing(ids, vnodes),
	}
}
