package mapindex

import "fmt"

// applyKeyRange filters and orders rows per opts' startkey/endkey/keys/
// descending. Rows arrive already sorted ascending by key (readRows does
// this); this only needs to reverse and filter.
func applyKeyRange(rows []Row, opts QueryOptions) []Row {
	if len(opts.Keys) > 0 {
		var out []Row
		for _, k := range opts.Keys {
			for _, r := range rows {
				if Equal(r.Key, k) {
					out = append(out, r)
				}
			}
		}
		return out
	}

	var out []Row
	for _, r := range rows {
		if opts.HasStartKey {
			if opts.InclusiveStart {
				if Less(r.Key, opts.StartKey) {
					continue
				}
			} else if !Less(opts.StartKey, r.Key) {
				continue
			}
		}
		if opts.HasEndKey {
			if opts.InclusiveEnd {
				if Less(opts.EndKey, r.Key) {
					continue
				}
			} else if !Less(r.Key, opts.EndKey) {
				continue
			}
		}
		out = append(out, r)
	}

	if opts.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// applyLimitSkip applies skip then limit, in that order.
func applyLimitSkip(rows []Row, opts QueryOptions) []Row {
	if opts.Skip > 0 {
		if opts.Skip >= len(rows) {
			return nil
		}
		rows = rows[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}

// groupLevelKey truncates an array key to level elements, or returns the
// key unchanged for a scalar.
func groupLevelKey(key interface{}, level int) interface{} {
	arr, ok := key.([]interface{})
	if !ok || level <= 0 || level >= len(arr) {
		return key
	}
	return append([]interface{}{}, arr[:level]...)
}

// groupRows implements group/group_level: rows sharing a (possibly
// truncated) key are folded together by the view's reduce function.
func groupRows(rows []Row, reduce ReduceFunc, opts QueryOptions) ([]Row, error) {
	if reduce == nil {
		return nil, fmt.Errorf("mapindex: group requested but view has no reduce function")
	}
	level := opts.GroupLevel
	if opts.Group && level == 0 {
		level = -1 // full key grouping
	}

	type bucket struct {
		key    interface{}
		keys   []interface{}
		values []interface{}
	}
	var buckets []*bucket
	for _, r := range rows {
		gk := r.Key
		if level > 0 {
			gk = groupLevelKey(r.Key, level)
		}
		var b *bucket
		for _, candidate := range buckets {
			if Equal(candidate.key, gk) {
				b = candidate
				break
			}
		}
		if b == nil {
			b = &bucket{key: gk}
			buckets = append(buckets, b)
		}
		b.keys = append(b.keys, r.Key)
		b.values = append(b.values, r.Value)
	}

	out := make([]Row, 0, len(buckets))
	for _, b := range buckets {
		reduced, err := reduce(b.keys, b.values, false)
		if err != nil {
			return nil, fmt.Errorf("mapindex: reduce failed: %w", err)
		}
		out = append(out, Row{Key: b.key, Value: reduced})
	}
	return out, nil
}

// reduceAll folds every row into a single value (no grouping): the
// default when a view has a reduce function and the caller didn't
// request group/group_level or explicitly disable reduce.
func reduceAll(rows []Row, reduce ReduceFunc) ([]Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	keys := make([]interface{}, len(rows))
	values := make([]interface{}, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
		values[i] = r.Value
	}
	reduced, err := reduce(keys, values, false)
	if err != nil {
		return nil, fmt.Errorf("mapindex: reduce failed: %w", err)
	}
	return []Row{{Key: nil, Value: reduced}}, nil
}
