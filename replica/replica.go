// Package replica implements the per-site replicated document state:
// a sorted live character sequence, a tombstone set, and a Lamport
// clock, together with the local/remote edit operations that keep the
// three consistent with one another.
//
// The live sequence is a sorted slice searched with binary search rather
// than a linked-list-backed registry, targeting documents up to roughly
// 10^4 characters (see DESIGN.md).
package replica

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lyolishe/collaborative-text-editor/errs"
	"github.com/lyolishe/collaborative-text-editor/posid"
	"github.com/lyolishe/collaborative-text-editor/proto"
)

// character is one live element of the document.
type character struct {
	id    charID
	value string
}

// Replica holds one participant's authoritative copy of the document.
type Replica struct {
	mu      sync.RWMutex
	siteID  string
	lamport uint64
	live    []*character
	tomb    map[string]struct{}
	// tombIndex keeps the structured (pos, lamport, site) form of every
	// tombstoned id so Snapshot can serialize it; r.tomb alone only has
	// the canonicalized string key.
	tombIndex map[string]snapshotTomb
	logger    *zap.SugaredLogger
}

// New creates an empty Replica for siteID. If siteID is empty, a UUID is
// minted (grounded on edirooss-zmux-server's use of google/uuid for
// session-scoped identifiers).
func New(siteID string, opts ...Option) *Replica {
	if siteID == "" {
		siteID = uuid.NewString()
	}
	r := &Replica{
		siteID:    siteID,
		tomb:      make(map[string]struct{}),
		tombIndex: make(map[string]snapshotTomb),
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SiteID returns this replica's stable site identifier.
func (r *Replica) SiteID() string {
	return r.siteID
}

// Lamport returns the current logical clock value.
func (r *Replica) Lamport() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lamport
}

// Len returns the number of live (non-tombstoned) characters.
func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Text returns the concatenation of live characters' values in PosId
// order -- the observable document text.
func (r *Replica) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b []byte
	for _, c := range r.live {
		b = append(b, c.value...)
	}
	return string(b)
}

// tombstone records pos as deleted, keyed on the PosId alone (see
// tombstoneKey). lamport/site are provenance kept only for Snapshot's
// serialized form, not for the membership key itself.
func (r *Replica) tombstone(pos posid.PosId, lamport uint64, site string) {
	key := tombstoneKey(pos)
	r.tomb[key] = struct{}{}
	r.tombIndex[key] = snapshotTomb{Pos: pos.Clone(), Lamport: lamport, Site: site}
}

// search returns the index at which id lives (or would live) in r.live,
// and whether the exact (pos, lamport, site) tuple is actually present
// there. Used to detect a duplicate delivery of the same insert. Callers
// must hold r.mu.
func (r *Replica) search(id charID) (int, bool) {
	idx := sort.Search(len(r.live), func(i int) bool {
		return compareCharID(r.live[i].id, id) >= 0
	})
	found := idx < len(r.live) && compareCharID(r.live[idx].id, id) == 0
	return idx, found
}

// posRange returns the contiguous [lo, hi) span of r.live holding
// characters at pos. The live slice orders primarily by pos, so every
// character sharing a position -- ordinarily at most one, but possibly
// more if two replicas concurrently allocated the identical PosId -- sits
// in one contiguous run. Callers must hold r.mu.
func (r *Replica) posRange(pos posid.PosId) (lo, hi int) {
	lo = sort.Search(len(r.live), func(i int) bool {
		return posid.Compare(r.live[i].id.pos, pos) >= 0
	})
	hi = sort.Search(len(r.live), func(i int) bool {
		return posid.Compare(r.live[i].id.pos, pos) > 0
	})
	return lo, hi
}

// LocalInsert inserts value at index: it
// allocates a fresh PosId strictly between the neighbors at index-1 and
// index, advances the Lamport clock, and returns the Operation to
// broadcast.
func (r *Replica) LocalInsert(index int, value string) (proto.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index > len(r.live) {
		return proto.Operation{}, errs.ErrInvalidIndex
	}

	var lo, hi posid.PosId
	if index > 0 {
		lo = r.live[index-1].id.pos
	}
	if index < len(r.live) {
		hi = r.live[index].id.pos
	}

	pos, err := posid.AllocateBetween(lo, hi)
	if err != nil {
		return proto.Operation{}, fmt.Errorf("allocate position: %w", err)
	}
	// A PosId deleted here stays tombstoned forever, so a fresh insert
	// must not reuse it: step past it while staying below hi.
	for {
		if _, dead := r.tomb[tombstoneKey(pos)]; !dead {
			break
		}
		if pos, err = posid.AllocateBetween(pos, hi); err != nil {
			return proto.Operation{}, fmt.Errorf("allocate position: %w", err)
		}
	}

	r.lamport++
	id := charID{pos: pos, lamport: r.lamport, site: r.siteID}
	c := &character{id: id, value: value}

	r.live = append(r.live, nil)
	copy(r.live[index+1:], r.live[index:])
	r.live[index] = c

	return proto.Operation{
		Kind:      proto.KindInsert,
		ID:        pos,
		Value:     value,
		Timestamp: r.lamport,
		Site:      r.siteID,
	}, nil
}

// LocalDelete removes the live character at index. It returns ok=false
// for an out-of-range index, which is non-fatal.
func (r *Replica) LocalDelete(index int) (op proto.Operation, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.live) {
		return proto.Operation{}, false
	}

	c := r.live[index]
	r.lamport++
	r.tombstone(c.id.pos, c.id.lamport, c.id.site)
	r.live = append(r.live[:index], r.live[index+1:]...)

	// Timestamp and Site describe the delete event itself (this replica's
	// new clock tick and site), not the character it removes.
	return proto.Operation{
		Kind:      proto.KindDelete,
		ID:        c.id.pos,
		Timestamp: r.lamport,
		Site:      r.siteID,
	}, true
}

// ApplyRemote integrates an operation received from a peer. It is
// idempotent and commutative over the full set of operations ever
// delivered to this replica.
func (r *Replica) ApplyRemote(op proto.Operation) error {
	if err := op.Validate(); err != nil {
		r.logger.Debugw("rejecting malformed remote operation", "error", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if op.Timestamp > r.lamport {
		r.lamport = op.Timestamp
	}
	r.lamport++

	id := charID{pos: op.ID, lamport: op.Timestamp, site: op.Site}

	switch op.Kind {
	case proto.KindInsert:
		if _, tombstoned := r.tomb[tombstoneKey(op.ID)]; tombstoned {
			r.logger.Debugw("suppressing insert for already-tombstoned id", "site", op.Site, "pos", op.ID)
			return nil
		}
		idx, exists := r.search(id)
		if exists {
			return nil // duplicate delivery
		}
		c := &character{id: id, value: op.Value}
		r.live = append(r.live, nil)
		copy(r.live[idx+1:], r.live[idx:])
		r.live[idx] = c

	case proto.KindDelete:
		// A delete's own lamport/site describe the delete event, not the
		// character it targets, so tombstone membership and live removal
		// both key on op.ID's PosId alone. When the target is already
		// live, its original (lamport, site) is kept for Snapshot
		// provenance; otherwise the delete's own fields are the best
		// record available (the insert may not have arrived yet).
		lamport, site := op.Timestamp, op.Site
		lo, hi := r.posRange(op.ID)
		if hi > lo {
			lamport, site = r.live[lo].id.lamport, r.live[lo].id.site
		}
		r.tombstone(op.ID, lamport, site)
		if hi > lo {
			r.live = append(r.live[:lo], r.live[hi:]...)
		}
	}

	return nil
}
