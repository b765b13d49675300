package license

// UsageCounts returns how many sessions each username holds.
func UsageCounts(sessions []UserSession) map[string]int {
	counts := make(map[string]int)
	for _, s := range sessions {
		counts[s.Username]++
	}
	return counts
}

// WithUsageCounts annotates every session with its username's session count. The input
// slice is left untouched and the output keeps its order.
func WithUsageCounts(sessions []UserSession) []CountedSession {
	counts := UsageCounts(sessions)
	out := make([]CountedSession, len(sessions))
	for i, s := range sessions {
		out[i] = CountedSession{
			UserSession: s,
			UsageCount:  counts[s.Username],
		}
	}
	return out
}

// Detail builds the detail view of a single feature.
func Detail(f Feature) FeatureDetail {
	return FeatureDetail{
		Feature:        f.Name,
		Tool:           f.Tool,
		Version:        f.Version,
		Expiry:         f.Expiry,
		TotalLicenses:  f.TotalLicenses,
		InUse:          f.InUse,
		Available:      f.Available,
		UserDetails:    WithUsageCounts(f.Sessions),
		UserUsageCount: UsageCounts(f.Sessions),
	}
}
