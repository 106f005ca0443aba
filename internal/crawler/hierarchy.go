package crawler

import "sort"

// CollectTopLeagues flattens a sport into the ordered list of leagues to crawl.
// A league qualifies when it is flagged top and has prematch events. The
// result is stably sorted by TopOrder, so ties keep catalog order. Absent
// regions or leagues produce an empty result.
func CollectTopLeagues(sport Sport) []LeagueContext {
	out := make([]LeagueContext, 0)
	for _, region := range sport.Regions {
		for _, league := range region.Leagues {
			if !league.Top || league.Prematch <= 0 {
				continue
			}
			out = append(out, LeagueContext{Sport: sport, Region: region, League: league})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].League.TopOrder < out[j].League.TopOrder
	})
	return out
}

// SelectSports keeps the sports whose family is in targets, preserving
// catalog order.
func SelectSports(sports []Sport, targets map[string]struct{}) []Sport {
	out := make([]Sport, 0, len(sports))
	for _, sport := range sports {
		if _, ok := targets[sport.Family]; ok {
			out = append(out, sport)
		}
	}
	return out
}

// TakeEvents returns at most limit events from the front of events.
func TakeEvents(events []Event, limit int) []Event {
	if limit < 0 {
		limit = 0
	}
	if len(events) <= limit {
		return events
	}
	return events[:limit]
}
