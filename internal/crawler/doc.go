// Package crawler implements the betline crawl engine: the data model for the
// sport/region/league/event hierarchy, the error taxonomy and retry policy
// shared by the API client, the top-league collector, the orchestrating
// Engine, and the text result sink.
package crawler
