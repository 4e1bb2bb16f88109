package wire

import (
	"fmt"
	"reflect"
	"sort"
)

// ToDicter is implemented by domain objects that export a plain-mapping
// view of themselves for serialization.
type ToDicter interface {
	ToDict() map[string]any
}

// RecordFramer is implemented by tabular/frame-shaped values that
// serialize as a sequence of record objects, one per row.
type RecordFramer interface {
	Records() []map[string]any
}

// Named is implemented by tagged variants/enums that serialize to their
// name rather than their underlying value.
type Named interface {
	Name() string
}

// SerializeGraphResult converts a whole-graph result (node id -> per-node
// output mapping) into the wire shape: decimal-string node ids, and every
// value recursively serialized per Serialize.
func SerializeGraphResult(results map[int]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(results))
	for id, nodeResult := range results {
		serialized := make(map[string]any, len(nodeResult))
		for k, v := range nodeResult {
			serialized[k] = Serialize(v)
		}
		out[fmt.Sprintf("%d", id)] = serialized
	}
	return out
}

// Serialize recursively converts an arbitrary Go value into a JSON-safe
// form:
//   - nil                         -> the literal string "None"
//   - bool, numbers, strings      -> their string representation
//   - ordered sequences           -> recursively serialized sequences
//   - mappings                    -> objects with stringified keys
//   - tabular frames              -> sequences of record objects
//   - domain objects (ToDicter)   -> their exported mapping, recursively
//   - tagged variants (Named)     -> their name
//   - fallback: structs           -> fmt.Sprintf("%+v", value)
//   - fallback: anything else     -> fmt.Sprintf("%v", value)
func Serialize(v any) any {
	if v == nil {
		return "None"
	}

	switch val := v.(type) {
	case string:
		return val
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", val)
	case ToDicter:
		return serializeMapAny(val.ToDict())
	case RecordFramer:
		records := val.Records()
		seq := make([]any, 0, len(records))
		for _, rec := range records {
			seq = append(seq, serializeMapAny(rec))
		}
		return seq
	case Named:
		return val.Name()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "None"
		}
		return Serialize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		seq := make([]any, n)
		for i := 0; i < n; i++ {
			seq[i] = Serialize(rv.Index(i).Interface())
		}
		return seq
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		keys := rv.MapKeys()
		strKeys := make([]string, len(keys))
		keyByStr := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			s := fmt.Sprintf("%v", k.Interface())
			strKeys[i] = s
			keyByStr[s] = k
		}
		sort.Strings(strKeys)
		for _, s := range strKeys {
			out[s] = Serialize(rv.MapIndex(keyByStr[s]).Interface())
		}
		return out
	case reflect.Struct:
		return fmt.Sprintf("%+v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// serializeMapAny applies Serialize to every value of a map[string]any,
// used for ToDicter/RecordFramer exports whose keys are already strings.
func serializeMapAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Serialize(v)
	}
	return out
}
