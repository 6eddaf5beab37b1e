package plan

import "strings"

// Row is one result record as read from a backend, keyed by Field.Name.
// Values are in backend representation until the engine dumps them.
type Row map[string]any

// SetPath stores v in a nested map at the dotted path, creating
// intermediate maps. An existing non-map value on the way is replaced.
func SetPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// GetPath reads a value from nested maps at the dotted path.
func GetPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
