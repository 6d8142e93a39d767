package stdio

import (
	"sort"
	"strings"
)

// MergeEnv overlays extra onto base, a list of KEY=VALUE entries such as
// os.Environ. Keys in extra replace matching keys in base; new keys are
// appended in sorted order.
func MergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return append([]string(nil), base...)
	}
	merged := make([]string, 0, len(base)+len(extra))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		merged = append(merged, entry)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+extra[k])
	}
	return merged
}
