package coordinator

import "time"

// Stats are point-in-time counters.
type Stats struct {
	Reads     int64 `json:"reads"`
	Mutates   int64 `json:"mutates"`
	Commits   int64 `json:"commits"`
	Retries   int64 `json:"retries"`
	Failures  int64 `json:"failures"`
	Refreshes int64 `json:"refreshes"`
}

// Health summarises coordinator liveness and cache freshness.
type Health struct {
	Status     string    `json:"status"` // "ok" or "stale"
	LoadedAt   time.Time `json:"loadedAt"`
	CacheAge   string    `json:"cacheAge"`
	Links      int       `json:"links"`
	Activities int       `json:"activities"`
	Writing    bool      `json:"writeInFlight"`
	Stats      Stats     `json:"stats"`
}

// Health returns the current liveness and freshness summary.
func (c *Coordinator) Health() Health {
	c.mu.Lock()
	loadedAt := c.loadedAt
	links := len(c.cache.Links)
	activities := len(c.cache.Activities)
	writing := c.writing
	c.mu.Unlock()

	age := time.Since(loadedAt)
	status := "ok"
	if age > c.opts.StaleAfter {
		status = "stale"
	}
	return Health{
		Status:     status,
		LoadedAt:   loadedAt,
		CacheAge:   age.Round(time.Second).String(),
		Links:      links,
		Activities: activities,
		Writing:    writing,
		Stats: Stats{
			Reads:     c.reads.Load(),
			Mutates:   c.mutates.Load(),
			Commits:   c.commits.Load(),
			Retries:   c.retries.Load(),
			Failures:  c.failures.Load(),
			Refreshes: c.refreshes.Load(),
		},
	}
}
