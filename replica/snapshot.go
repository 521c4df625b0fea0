package replica

import (
	"fmt"
	"sort"

	"github.com/lyolishe/collaborative-text-editor/errs"
	"github.com/lyolishe/collaborative-text-editor/posid"
)

// snapshotChar is the serializable form of a live character.
type snapshotChar struct {
	Pos     posid.PosId `json:"pos"`
	Lamport uint64      `json:"lamport"`
	Site    string      `json:"site"`
	Value   string      `json:"value"`
}

// snapshotTomb is the serializable form of one tombstoned identifier.
type snapshotTomb struct {
	Pos     posid.PosId `json:"pos"`
	Lamport uint64      `json:"lamport"`
	Site    string      `json:"site"`
}

// Snapshot is the serializable triple (liveSeq, tombstones, lamport)
// persisted as a replica's `state-<docId>` record.
type Snapshot struct {
	Live      []snapshotChar `json:"live"`
	Tombstone []snapshotTomb `json:"tombstones"`
	Lamport   uint64         `json:"lamport"`
}

// Snapshot captures the replica's current state for local persistence.
func (r *Replica) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{Lamport: r.lamport}
	for _, c := range r.live {
		s.Live = append(s.Live, snapshotChar{
			Pos: c.id.pos, Lamport: c.id.lamport, Site: c.id.site, Value: c.value,
		})
	}
	s.Tombstone = make([]snapshotTomb, 0, len(r.tombIndex))
	for _, t := range r.tombIndex {
		s.Tombstone = append(s.Tombstone, t)
	}
	return s
}

// Restore rebuilds replica state from a snapshot, revalidating its
// ordering and tombstone-disjointness invariants. On any violation it
// returns an error and leaves the replica untouched; callers must fall
// back to an empty replica.
func (r *Replica) Restore(s Snapshot) error {
	live := make([]*character, 0, len(s.Live))
	for _, sc := range s.Live {
		if len(sc.Pos) == 0 || sc.Site == "" {
			return fmt.Errorf("%w: snapshot character missing id fields", errs.ErrMalformedOperation)
		}
		live = append(live, &character{
			id:    charID{pos: sc.Pos, lamport: sc.Lamport, site: sc.Site},
			value: sc.Value,
		})
	}
	sort.Slice(live, func(i, j int) bool {
		return compareCharID(live[i].id, live[j].id) < 0
	})
	// Strict ascending order, no duplicates.
	for i := 1; i < len(live); i++ {
		if compareCharID(live[i-1].id, live[i].id) >= 0 {
			return fmt.Errorf("%w: snapshot violates ascending PosId order", errs.ErrMalformedOperation)
		}
	}

	tomb := make(map[string]struct{}, len(s.Tombstone))
	tombIndex := make(map[string]snapshotTomb, len(s.Tombstone))
	for _, st := range s.Tombstone {
		key := tombstoneKey(st.Pos)
		tomb[key] = struct{}{}
		tombIndex[key] = st
	}
	// A PosId must not be both live and tombstoned.
	for _, c := range live {
		if _, tombstoned := tomb[tombstoneKey(c.id.pos)]; tombstoned {
			return fmt.Errorf("%w: snapshot has id both live and tombstoned", errs.ErrMalformedOperation)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = live
	r.tomb = tomb
	r.tombIndex = tombIndex
	// Lamport must not regress relative to what this replica has
	// already observed.
	if s.Lamport > r.lamport {
		r.lamport = s.Lamport
	}
	return nil
}
