package tool

import (
	"encoding/json"
	"fmt"
	"strconv"
)

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func requireString(args map[string]any, key string) (string, error) {
	s, ok := stringArg(args, key)
	if !ok || s == "" {
		return "", invalidArgs("%q is required", key)
	}
	return s, nil
}

func stringOr(args map[string]any, key, def string) string {
	if s, ok := stringArg(args, key); ok && s != "" {
		return s
	}
	return def
}

// intArg accepts JSON numbers, Go ints and numeric strings.
func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, invalidArgs("%q must be an integer", key)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, invalidArgs("%q must be an integer", key)
		}
		return i, nil
	default:
		return 0, invalidArgs("%q must be an integer", key)
	}
}

func boolArg(args map[string]any, key string) bool {
	switch b := args[key].(type) {
	case bool:
		return b
	case string:
		v, _ := strconv.ParseBool(b)
		return v
	default:
		return false
	}
}
