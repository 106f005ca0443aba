package crawler

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sport is the top of the betline hierarchy. Family is the category key used
// to select target sports; Name is the display label.
type Sport struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Family  string   `json:"family"`
	Regions []Region `json:"regions"`
}

// Region groups leagues of a sport, usually by country.
type Region struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Leagues []League `json:"leagues"`
}

// League is a championship inside a region. Only top leagues with prematch
// events are crawled.
type League struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Top      bool   `json:"top"`
	TopOrder int    `json:"topOrder"`
	Prematch int    `json:"prematch"`
}

// Event is a single match. Markets are only populated in the detail form.
type Event struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Kickoff int64    `json:"kickoff"`
	Markets []Market `json:"markets"`
}

// KickoffTime converts the epoch-millisecond kickoff into a UTC time.
func (e Event) KickoffTime() time.Time {
	return time.UnixMilli(e.Kickoff).UTC()
}

// Market is a bet type offered on an event.
type Market struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Open    bool     `json:"open"`
	Runners []Runner `json:"runners"`
}

// Runner is one selectable outcome of a market with its decimal odds.
type Runner struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Open  bool            `json:"open"`
}

// EventsResponse wraps the league event listing.
type EventsResponse struct {
	Events []Event `json:"events"`
}

// LeagueContext carries a league together with its ancestry through the
// crawl. It is a value type and is never mutated after collection.
type LeagueContext struct {
	Sport  Sport
	Region Region
	League League
}

// RunStats summarises a finished crawl run.
type RunStats struct {
	SportsSelected  int
	LeaguesCrawled  int
	EventsRequested int
	EventsEmitted   int
	EventsSkipped   int
	Elapsed         time.Duration
}
