package replica

import (
	"strings"

	"github.com/lyolishe/collaborative-text-editor/posid"
)

// charID is the disambiguated identifier actually attached to a character:
// the PosId generated by the allocation algebra, plus the
// (lamport, site) tuple that breaks ties when two replicas concurrently
// allocate the identical PosId. Only the PosId component feeds the
// allocation algebra's midpoint search; the trailing fields exist purely
// to give characters a strict total order in that collision case.
type charID struct {
	pos     posid.PosId
	lamport uint64
	site    string
}

// compare orders two charIDs: primarily by PosId, then lamport, then site.
func compareCharID(a, b charID) int {
	if c := posid.Compare(a.pos, b.pos); c != 0 {
		return c
	}
	if a.lamport != b.lamport {
		if a.lamport < b.lamport {
			return -1
		}
		return 1
	}
	return strings.Compare(a.site, b.site)
}

// tombstoneKey canonicalizes a PosId alone for tombstone membership and
// already-deleted checks. It deliberately ignores lamport/site: a delete
// operation's lamport is the delete's own clock tick, not the lamport its
// target character was inserted under, so the two can never be relied on
// to match across a network hop. The (lamport, site) tuple in charID
// still orders same-position characters in the live sequence; it just
// can't double as a tombstone key.
func tombstoneKey(pos posid.PosId) string {
	return pos.String()
}
