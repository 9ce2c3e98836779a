package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePatch(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		patch string
		want  string
	}{
		{name: "replace member", doc: `{"name":"V1","tag":"T"}`, patch: `{"name":"V2"}`, want: `{"name":"V2","tag":"T"}`},
		{name: "null removes", doc: `{"a":1,"b":2}`, patch: `{"b":null}`, want: `{"a":1}`},
		{name: "nested merge", doc: `{"x":{"a":1,"b":2}}`, patch: `{"x":{"b":3}}`, want: `{"x":{"a":1,"b":3}}`},
		{name: "array replaces", doc: `{"tags":["a","b"]}`, patch: `{"tags":["c"]}`, want: `{"tags":["c"]}`},
		{name: "empty doc", doc: ``, patch: `{"a":1}`, want: `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergePatch(json.RawMessage(tt.doc), json.RawMessage(tt.patch))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestMergePatch_InvalidPatch(t *testing.T) {
	_, err := MergePatch(json.RawMessage(`{}`), json.RawMessage(`{nope`))
	require.Error(t, err)
}

// stepwise applies patches in order.
func stepwise(t *testing.T, doc string, patches ...string) string {
	t.Helper()
	out := json.RawMessage(doc)
	for _, p := range patches {
		var err error
		out, err = MergePatch(out, json.RawMessage(p))
		require.NoError(t, err)
	}
	return string(out)
}

func TestMerge_MatchesSequentialApplication(t *testing.T) {
	tests := []struct {
		name          string
		doc           string
		first, second string
	}{
		{name: "flat", doc: `{"name":"orig","site":"north","note":"keep"}`, first: `{"name":"V1","note":null}`, second: `{"name":"V2","site":"south"}`},
		{name: "nested objects", doc: `{"a":{"x":1,"y":2}}`, first: `{"a":{"x":null}}`, second: `{"a":{"z":3}}`},
		{name: "object then null", doc: `{"a":{"y":2}}`, first: `{"a":{"x":1}}`, second: `{"a":null}`},
		{name: "second adds object", doc: `{"b":1}`, first: `{"b":2}`, second: `{"a":{"x":1}}`},
		{name: "empty first", doc: `{"a":1}`, first: ``, second: `{"a":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combined, err := Merge(json.RawMessage(tt.first), json.RawMessage(tt.second))
			require.NoError(t, err)

			var patches []string
			if tt.first != "" {
				patches = append(patches, tt.first)
			}
			want := stepwise(t, tt.doc, append(patches, tt.second)...)
			assert.JSONEq(t, want, stepwise(t, tt.doc, string(combined)))
		})
	}
}

func TestMerge_ObjectOverDeletedMemberIsNotComposable(t *testing.T) {
	tests := []struct {
		name          string
		first, second string
	}{
		{name: "null then object", first: `{"a":null}`, second: `{"a":{"x":1}}`},
		{name: "scalar then object", first: `{"a":5}`, second: `{"a":{"x":1}}`},
		{name: "nested null then object", first: `{"a":{"b":null}}`, second: `{"a":{"b":{"x":1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(json.RawMessage(tt.first), json.RawMessage(tt.second))
			assert.ErrorIs(t, err, ErrNotComposable)
		})
	}
}
