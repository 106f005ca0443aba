package betline

import "github.com/JakeFAU/betline-crawler/internal/crawler"

// Aliases keep call sites in this package short; the model lives in crawler.
type (
	Sport = crawler.Sport
	Event = crawler.Event
)

var _ crawler.LineAPI = (*Client)(nil)
