package nodes

import "github.com/flowforge/flowexec/internal/table"

// Config accessor helpers, grounded on the teacher's
// internal/worker/processor/types.go map-accessor helpers
// (getString/getInt/getFloat/getBool), generalized to read from a
// node's declared config map.

func cfgString(cfg map[string]interface{}, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func cfgInt(cfg map[string]interface{}, key string, def int) int {
	if v, ok := cfg[key]; ok {
		switch x := v.(type) {
		case int:
			return x
		case int64:
			return int(x)
		case float64:
			return int(x)
		}
	}
	return def
}

func cfgFloat(cfg map[string]interface{}, key string, def float64) float64 {
	if v, ok := cfg[key]; ok {
		switch x := v.(type) {
		case float64:
			return x
		case int:
			return float64(x)
		}
	}
	return def
}

func cfgBool(cfg map[string]interface{}, key string, def bool) bool {
	if v, ok := cfg[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func cfgStringSlice(cfg map[string]interface{}, key string) []string {
	v, ok := cfg[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func cfgMap(cfg map[string]interface{}, key string) map[string]interface{} {
	if v, ok := cfg[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// singleInput returns the one input table a node expects, under the
// "input" handle if present, else the sole entry in the input map.
func singleInput(in Input) (*table.Table, bool) {
	if v, ok := in.Inputs["input"]; ok {
		t, ok := v.(*table.Table)
		return t, ok
	}
	for _, v := range in.Inputs {
		if t, ok := v.(*table.Table); ok {
			return t, true
		}
	}
	return nil, false
}
