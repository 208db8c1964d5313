package models

// FailedTarget pairs a failed target with the reason it failed.
type FailedTarget struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report aggregates the outcomes of one batch in original target order.
type Report struct {
	Results           []*Record      `json:"results"`
	TotalURLs         int            `json:"totalUrls"`
	SuccessfulScrapes int            `json:"successfulScrapes"`
	FailedScrapes     int            `json:"failedScrapes"`
	FailedURLs        []string       `json:"failedUrls"`
	Failures          []FailedTarget `json:"failures"`
}

// NewReport builds a report from outcomes indexed by their original position.
// The order of outcomes is preserved regardless of when each completed.
func NewReport(outcomes []Outcome) *Report {
	report := &Report{
		Results:    make([]*Record, 0, len(outcomes)),
		TotalURLs:  len(outcomes),
		FailedURLs: make([]string, 0),
		Failures:   make([]FailedTarget, 0),
	}

	for _, o := range outcomes {
		if o.Succeeded() {
			report.Results = append(report.Results, o.Record)
			continue
		}
		report.FailedURLs = append(report.FailedURLs, o.Target)
		report.Failures = append(report.Failures, FailedTarget{
			URL:   o.Target,
			Error: o.Message(),
		})
	}

	report.SuccessfulScrapes = len(report.Results)
	report.FailedScrapes = len(report.FailedURLs)

	return report
}
