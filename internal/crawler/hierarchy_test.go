package crawler

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func leagueIDs(contexts []LeagueContext) []int64 {
	ids := make([]int64, 0, len(contexts))
	for _, lc := range contexts {
		ids = append(ids, lc.League.ID)
	}
	return ids
}

func TestCollectTopLeaguesFiltersAndSorts(t *testing.T) {
	t.Parallel()

	sport := Sport{
		ID:     1,
		Name:   "Soccer",
		Family: "Soccer",
		Regions: []Region{
			{ID: 10, Name: "England", Leagues: []League{
				{ID: 1, Name: "Premier League", Top: true, TopOrder: 2, Prematch: 10},
				{ID: 2, Name: "Championship", Top: false, TopOrder: 0, Prematch: 50},
				{ID: 3, Name: "FA Cup", Top: true, TopOrder: 5, Prematch: 0},
			}},
			{ID: 20, Name: "Spain", Leagues: []League{
				{ID: 4, Name: "La Liga", Top: true, TopOrder: 1, Prematch: 8},
				{ID: 5, Name: "Segunda", Top: true, TopOrder: 2, Prematch: 3},
			}},
		},
	}

	got := CollectTopLeagues(sport)
	require.Equal(t, []int64{4, 1, 5}, leagueIDs(got))
	require.Equal(t, "Spain", got[0].Region.Name)
	require.Equal(t, "England", got[1].Region.Name)
	require.Equal(t, "Soccer", got[2].Sport.Name)
	for _, lc := range got {
		require.True(t, lc.League.Top)
		require.Positive(t, lc.League.Prematch)
	}
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i].League.TopOrder < got[j].League.TopOrder
	}))
}

func TestCollectTopLeaguesAbsentBranches(t *testing.T) {
	t.Parallel()

	require.Empty(t, CollectTopLeagues(Sport{Name: "Tennis"}))
	require.NotNil(t, CollectTopLeagues(Sport{Name: "Tennis"}))
	require.Empty(t, CollectTopLeagues(Sport{Regions: []Region{{Name: "Nowhere"}}}))
}

func TestCollectTopLeaguesStableOnTies(t *testing.T) {
	t.Parallel()

	leagues := make([]League, 0, 8)
	for i := range 8 {
		leagues = append(leagues, League{ID: int64(i + 1), Top: true, TopOrder: 7, Prematch: 1})
	}
	got := CollectTopLeagues(Sport{Regions: []Region{{Leagues: leagues[:4]}, {Leagues: leagues[4:]}}})
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, leagueIDs(got))
}

func TestSelectSportsExactFamilyMatch(t *testing.T) {
	t.Parallel()

	sports := []Sport{
		{ID: 1, Family: "Soccer"},
		{ID: 2, Family: "soccer"},
		{ID: 3, Family: "Tennis"},
		{ID: 4, Family: "Darts"},
	}
	got := SelectSports(sports, map[string]struct{}{"Soccer": {}, "Tennis": {}})
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].ID)
	require.Equal(t, int64(3), got[1].ID)
	require.Empty(t, SelectSports(nil, map[string]struct{}{"Soccer": {}}))
}

func TestTakeEventsPrefix(t *testing.T) {
	t.Parallel()

	events := []Event{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	require.Equal(t, []Event{{ID: 1}, {ID: 2}}, TakeEvents(events, 2))
	require.Equal(t, events, TakeEvents(events, 10))
	require.Empty(t, TakeEvents(events, 0))
	require.Empty(t, TakeEvents(events, -3))
	require.Empty(t, TakeEvents(nil, 2))
}
