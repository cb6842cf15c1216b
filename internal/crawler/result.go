package crawler

import "time"

// SiteState is the lifecycle state of one site crawl.
type SiteState string

// Site crawl states.
const (
	StatePending     SiteState = "pending"
	StateDiscovering SiteState = "discovering"
	StateFetching    SiteState = "fetching"
	StateSaving      SiteState = "saving"
	StateDone        SiteState = "done"
	StateFailed      SiteState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s SiteState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// FailureStage names the pipeline step where a per-URL failure happened.
type FailureStage string

// Failure stages.
const (
	StageDiscover FailureStage = "discover"
	StageFetch    FailureStage = "fetch"
	StageExtract  FailureStage = "extract"
	StageSave     FailureStage = "save"
)

// Failure records one per-URL (or per-sitemap) failure.
type Failure struct {
	URL     string       `json:"url"`
	Stage   FailureStage `json:"stage"`
	Reason  string       `json:"reason"`
	Message string       `json:"message,omitempty"`
}

// CrawlResult aggregates the outcome of one site crawl. Counts always satisfy
// Saved <= Extracted <= Fetched <= Discovered.
type CrawlResult struct {
	Site            string     `json:"site"`
	State           SiteState  `json:"state"`
	Method          string     `json:"method,omitempty"`
	Discovered      int        `json:"discovered"`
	Fetched         int        `json:"fetched"`
	Extracted       int        `json:"extracted"`
	Saved           int        `json:"saved"`
	Failed          int        `json:"failed"`
	Duplicates      int        `json:"duplicates"`
	Warnings        int        `json:"warnings"`
	PartialFailures int        `json:"partial_failures"`
	Failures        []Failure  `json:"failures,omitempty"`
	Error           string     `json:"error,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Links           []string   `json:"links,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// NewCrawlResult starts a result for a site.
func NewCrawlResult(site string, startedAt time.Time) CrawlResult {
	return CrawlResult{
		Site:      site,
		State:     StatePending,
		StartedAt: startedAt,
	}
}

// FailedResult builds a terminal result for a site that never ran or could not start.
func FailedResult(site string, err error, at time.Time) CrawlResult {
	r := NewCrawlResult(site, at)
	r.Fail(err, at)
	return r
}

// RecordFailure appends a per-URL failure and bumps the failed counter.
func (r *CrawlResult) RecordFailure(url string, stage FailureStage, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{
		URL:     url,
		Stage:   stage,
		Reason:  ReasonCode(err),
		Message: errString(err),
	})
}

// RecordPartialFailure notes a non-fatal discovery failure without touching
// per-URL counters.
func (r *CrawlResult) RecordPartialFailure(url string, err error) {
	r.PartialFailures++
	r.Failures = append(r.Failures, Failure{
		URL:     url,
		Stage:   StageDiscover,
		Reason:  ReasonCode(err),
		Message: errString(err),
	})
}

// Fail moves the result to the Failed state.
func (r *CrawlResult) Fail(err error, at time.Time) {
	r.State = StateFailed
	r.Error = errString(err)
	r.Reason = ReasonCode(err)
	r.finish(at)
}

// Finish moves the result to the Done state.
func (r *CrawlResult) Finish(at time.Time) {
	r.State = StateDone
	r.finish(at)
}

func (r *CrawlResult) finish(at time.Time) {
	t := at
	r.FinishedAt = &t
}

// Consistent reports whether the monotonic count invariant holds.
func (r CrawlResult) Consistent() bool {
	return r.Saved <= r.Extracted && r.Extracted <= r.Fetched && r.Fetched <= r.Discovered
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
