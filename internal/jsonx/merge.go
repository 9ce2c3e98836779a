// Package jsonx applies and composes JSON merge patches (RFC 7396) over raw
// documents. Both the local outbox (coalescing edits) and the reference
// backend (applying updates) merge the same way.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ErrNotComposable is returned by Merge when no single merge patch has the
// effect of applying first and then second.
var ErrNotComposable = errors.New("merge patches cannot be composed")

// MergePatch applies patch to doc and returns the merged document. An empty
// doc is treated as {}.
func MergePatch(doc, patch json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		doc = json.RawMessage(`{}`)
	}
	out, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}
	return out, nil
}

// Merge combines two patches into one, so that applying the result equals
// applying first and then second. Nulls in either patch survive as
// deletions.
//
// A merge patch cannot say "replace this member with an object": an object
// value always merges into what is there. When second sets an object under
// a member that first deletes or sets to a non-object, Merge returns
// ErrNotComposable and the patches must be applied one after the other.
func Merge(first, second json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(first)) == 0 {
		return second, nil
	}
	var a, b map[string]any
	if err := json.Unmarshal(first, &a); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	if err := json.Unmarshal(second, &b); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	if !composable(a, b) {
		return nil, ErrNotComposable
	}
	out, err := jsonpatch.MergeMergePatches(first, second)
	if err != nil {
		return nil, fmt.Errorf("merge patches: %w", err)
	}
	return out, nil
}

func composable(first, second map[string]any) bool {
	for k, v := range second {
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		prev, present := first[k]
		if !present {
			continue
		}
		prevObj, ok := prev.(map[string]any)
		if !ok || !composable(prevObj, sub) {
			return false
		}
	}
	return true
}
