package dqm

// Select implements spec.md §4.6: among the queues of a Lead's database
// that carry tagHint, pick the one with the smallest current depth,
// tie-breaking on the oldest last_request_time. The Lead itself is
// eligible when it currently carries tagHint (the capability-fallback
// case: no child of that tag is up, so the tag never left the Lead).
func Select(l *Lead, tagHint Tag) (*DatabaseQueue, error) {
	var candidates []*DatabaseQueue

	if l.Tags().has(tagHint) {
		candidates = append(candidates, l.DatabaseQueue)
	}
	for _, c := range l.Children() {
		if c.Tags().has(tagHint) {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		return nil, ErrNoQueueAvailable
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.Depth() < best.Depth():
			best = c
		case c.Depth() == best.Depth() && c.LastRequestTime().Before(best.LastRequestTime()):
			best = c
		}
	}
	return best, nil
}

// HintOrDefault resolves the queue_tag_override field against a cache
// entry's queue_type_hint, per spec.md §4.8 step 4.
func HintOrDefault(override string, cacheHint string) (Tag, bool) {
	if override != "" {
		return hint(override)
	}
	return hint(cacheHint)
}
