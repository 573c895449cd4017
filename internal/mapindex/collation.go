package mapindex

import "fmt"

// collationRank orders the JSON type universe: null < false < true <
// numbers < strings < arrays < objects.
func collationRank(v interface{}) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if !t {
			return 1
		}
		return 2
	case float64, int, int64:
		return 3
	case string:
		return 4
	case []interface{}:
		return 5
	case map[string]interface{}:
		return 6
	default:
		return 7
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Less implements JSON collation order: used both to sort view rows and
// to compare against startkey/endkey bounds.
func Less(a, b interface{}) bool {
	ra, rb := collationRank(a), collationRank(b)
	if ra != rb {
		return ra < rb
	}
	switch ra {
	case 0, 1, 2: // null, false, true: equal within rank
		return false
	case 3:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa < fb
	case 4:
		sa, _ := a.(string)
		sb, _ := b.(string)
		return sa < sb
	case 5:
		aa, _ := a.([]interface{})
		ab, _ := b.([]interface{})
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if Less(aa[i], ab[i]) {
				return true
			}
			if Less(ab[i], aa[i]) {
				return false
			}
		}
		return len(aa) < len(ab)
	case 6:
		ma, _ := a.(map[string]interface{})
		mb, _ := b.(map[string]interface{})
		ka := sortedKeys(ma)
		kb := sortedKeys(mb)
		for i := 0; i < len(ka) && i < len(kb); i++ {
			if ka[i] != kb[i] {
				return ka[i] < kb[i]
			}
			if Less(ma[ka[i]], mb[kb[i]]) {
				return true
			}
			if Less(mb[kb[i]], ma[ka[i]]) {
				return false
			}
		}
		return len(ka) < len(kb)
	default:
		return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
	}
}

// Equal reports key equality under the same collation Less uses.
func Equal(a, b interface{}) bool {
	return !Less(a, b) && !Less(b, a)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
