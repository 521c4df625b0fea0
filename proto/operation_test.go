package proto

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/lyolishe/collaborative-text-editor/errs"
	"github.com/lyolishe/collaborative-text-editor/posid"
)

func TestOperation_MarshalCanonical_RoundTrip(t *testing.T) {
	op := Operation{Kind: KindInsert, ID: posid.PosId{1048576}, Value: "H", Timestamp: 1, Site: "alice"}
	data, err := op.MarshalCanonical()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalOperation(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Equal(op) {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, op)
	}
}

func TestOperation_MarshalCanonical_Deterministic(t *testing.T) {
	op := Operation{Kind: KindDelete, ID: posid.PosId{5, 10}, Timestamp: 3, Site: "bob"}
	a, _ := op.MarshalCanonical()
	b, _ := op.MarshalCanonical()
	if string(a) != string(b) {
		t.Errorf("expected identical bytes across marshals, got %q vs %q", a, b)
	}
	var generic map[string]any
	if err := json.Unmarshal(a, &generic); err != nil {
		t.Fatalf("expected valid json: %v", err)
	}
	if generic["type"] != "delete" {
		t.Errorf("expected type=delete, got %v", generic["type"])
	}
	if _, hasValue := generic["value"]; hasValue {
		t.Errorf("delete operation must omit value, got %v", generic["value"])
	}
}

func TestUnmarshalOperation_Malformed(t *testing.T) {
	cases := []string{
		`{"type":"insert","id":[1],"timestamp":1,"siteId":"a"}`,            // missing value
		`{"type":"delete","id":[1],"value":"x","timestamp":1,"siteId":"a"}`, // delete with value
		`{"type":"bogus","id":[1],"timestamp":1,"siteId":"a"}`,             // unknown kind
		`{"type":"insert","id":[],"value":"a","timestamp":1,"siteId":"a"}`, // empty id
		`{"type":"insert","id":[1],"value":"a","timestamp":1,"siteId":""}`, // missing site
		`{"type":"insert","id":[-1],"value":"a","timestamp":1,"siteId":"a"}`, // negative component
		`not json at all`,
	}
	for _, c := range cases {
		if _, err := UnmarshalOperation([]byte(c)); !errors.Is(err, errs.ErrMalformedOperation) {
			t.Errorf("case %q: expected ErrMalformedOperation, got %v", c, err)
		}
	}
}

func TestOperation_Equal(t *testing.T) {
	a := Operation{Kind: KindInsert, ID: posid.PosId{1, 2}, Value: "x", Timestamp: 4, Site: "s"}
	b := Operation{Kind: KindInsert, ID: posid.PosId{1, 2}, Value: "x", Timestamp: 4, Site: "s"}
	c := Operation{Kind: KindInsert, ID: posid.PosId{1, 3}, Value: "x", Timestamp: 4, Site: "s"}
	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}
