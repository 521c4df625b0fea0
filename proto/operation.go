// Package proto defines the wire-level operation model shared by every
// replica and the relay: a tagged insert/delete record
// that serializes to the exact JSON shape the relay and browser clients
// exchange. Operations are immutable and self-describing; there is no
// external schema negotiation.
package proto

import (
	"encoding/json"
	"fmt"

	"github.com/lyolishe/collaborative-text-editor/errs"
	"github.com/lyolishe/collaborative-text-editor/posid"
)

// Kind distinguishes an insert from a delete operation.
type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Operation is one immutable edit, produced locally or received from a
// peer via the relay. Value is only meaningful (and only serialized) for
// inserts; it holds exactly one user-perceived character, which may be
// more than one UTF-16/UTF-8 code unit for astral-plane scalars.
type Operation struct {
	Kind      Kind        `json:"type"`
	ID        posid.PosId `json:"id"`
	Value     string      `json:"value,omitempty"`
	Timestamp uint64      `json:"timestamp"`
	Site      string      `json:"siteId"`
}

// Equal reports structural equality.
func (op Operation) Equal(other Operation) bool {
	return op.Kind == other.Kind &&
		posid.Equal(op.ID, other.ID) &&
		op.Value == other.Value &&
		op.Timestamp == other.Timestamp &&
		op.Site == other.Site
}

// Validate rejects operations that are missing required fields or carry
// non-sensical data, surfacing errs.ErrMalformedOperation. It
// does not consult any replica state -- it is a pure structural check,
// shared by replica.ApplyRemote and the relay's ingress path.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindInsert:
		if len(op.Value) == 0 {
			return fmt.Errorf("%w: insert missing value", errs.ErrMalformedOperation)
		}
	case KindDelete:
		if op.Value != "" {
			return fmt.Errorf("%w: delete must not carry a value", errs.ErrMalformedOperation)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", errs.ErrMalformedOperation, op.Kind)
	}
	if len(op.ID) == 0 {
		return fmt.Errorf("%w: empty position id", errs.ErrMalformedOperation)
	}
	if op.Site == "" {
		return fmt.Errorf("%w: missing siteId", errs.ErrMalformedOperation)
	}
	return nil
}

// MarshalCanonical produces the deterministic wire encoding.
// Because Operation's JSON tags fix field order and encoding/json walks
// struct fields in declaration order, two replicas marshaling the same
// Operation value always produce identical bytes.
func (op Operation) MarshalCanonical() ([]byte, error) {
	return json.Marshal(op)
}

// UnmarshalOperation decodes a wire-format operation, mapping any decode
// failure (missing fields, negative position components, wrong types) to
// errs.ErrMalformedOperation and then running Validate.
func UnmarshalOperation(data []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", errs.ErrMalformedOperation, err)
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}
