package report

// Telemetry matching compares "boundary crossings" between the two telemetry
// streams instead of attempting a full pairwise assignment. The underlying
// location API does not guarantee callback ordering, so consecutive samples
// from one side are collapsed to the points where the stream switches sides;
// those transition points are then paired by nearest timestamp within the
// configured tolerance.

// mergeEdges merges both telemetry sequences, drops samples without usable
// coordinates, sorts by timestamp, and keeps only the samples where the
// domain differs from the previous sample's.
func mergeEdges(audit, provider []*Event) []*Event {
	all := make([]*Event, 0, len(audit)+len(provider))
	for _, event := range audit {
		if Coords(event) != nil {
			all = append(all, event)
		}
	}
	for _, event := range provider {
		if Coords(event) != nil {
			all = append(all, event)
		}
	}
	sortByTimestamp(all)

	edges := make([]*Event, 0, len(all))
	for i, event := range all {
		if i == 0 || event.Domain != all[i-1].Domain {
			edges = append(edges, event)
		}
	}
	return edges
}

// matchEdges pairs up edge samples by nearest timestamp. Walking odd indices
// in steps of 2 considers each side-switch once: the sample at i is matched
// against its predecessor or successor, whichever is closer in time, and the
// pair is only kept if that gap is within matchDelta milliseconds.
func matchEdges(edges []*Event, matchDelta int64) [][2]*Event {
	matched := make([][2]*Event, 0, len(edges)/2)
	for i := 1; i < len(edges); i += 2 {
		event := edges[i]
		prev := edges[i-1]
		prevDelta := absDelta(event.Timestamp, prev.Timestamp)

		var next *Event
		var nextDelta int64 = -1 // -1 means no next candidate
		if i+1 < len(edges) {
			next = edges[i+1]
			nextDelta = absDelta(event.Timestamp, next.Timestamp)
		}

		if (nextDelta < 0 || prevDelta < nextDelta) && prevDelta <= matchDelta {
			matched = append(matched, [2]*Event{event, prev})
		} else if nextDelta >= 0 && nextDelta <= matchDelta {
			matched = append(matched, [2]*Event{event, next})
		}
	}
	return matched
}

func absDelta(ts1, ts2 int64) int64 {
	delta := ts1 - ts2
	if delta < 0 {
		return -delta
	}
	return delta
}
