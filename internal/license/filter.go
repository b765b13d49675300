package license

import "strings"

// AllTools selects every tool in a tool filter.
const AllTools = "all"

// SelectsAll reports whether tool is the empty or "all" filter.
func SelectsAll(tool string) bool {
	return tool == "" || strings.EqualFold(tool, AllTools)
}

// FilterByTool returns the features reported by tool, compared case-insensitively. The
// empty and "all" filters return features unchanged. The result is never nil.
func FilterByTool(features []Feature, tool string) []Feature {
	if SelectsAll(tool) {
		if features == nil {
			return []Feature{}
		}
		return features
	}
	out := []Feature{}
	for _, f := range features {
		if strings.EqualFold(f.Tool, tool) {
			out = append(out, f)
		}
	}
	return out
}
