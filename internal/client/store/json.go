package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetJSON loads key from collection and decodes it into T.
func GetJSON[T any](ctx context.Context, kv KV, collection, key string) (T, error) {
	var v T
	b, err := kv.Get(ctx, collection, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return v, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON[T any](ctx context.Context, kv KV, collection, key string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	return kv.Put(ctx, collection, key, b)
}

// QueryJSON decodes every item of collection into T and keeps those matching
// pred (nil keeps all), in insertion order.
func QueryJSON[T any](ctx context.Context, kv KV, collection string, pred func(T) bool) ([]T, error) {
	items, err := kv.QueryAll(ctx, collection, nil)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		var v T
		if err := json.Unmarshal(it.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, it.Key, err)
		}
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}
