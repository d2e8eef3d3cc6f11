package fetchworker

import "time"

// Filter mirrors the public Filter type: {channel, symbols?} (spec.md §3).
type Filter struct {
	Channel string
	Symbols []string
}

// Job is the immutable description of one fetch worker run (spec.md §3/§4.4).
type Job struct {
	CacheDir string
	Endpoint string
	APIKey   string
	Exchange string
	From     time.Time
	To       time.Time
	Filters  []Filter
}
