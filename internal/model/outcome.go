package model

// GroupOutcome is what the planner concluded for one group.
type GroupOutcome string

const (
	GroupSuccess          GroupOutcome = "success"
	GroupSkipped          GroupOutcome = "skipped"
	GroupFailed           GroupOutcome = "failed"
	GroupFailedNoRetry    GroupOutcome = "failed_no_retry"
	GroupSuccessNavFailed GroupOutcome = "success_nav_failed"
)

// Succeeded reports whether the filing itself went through.
func (o GroupOutcome) Succeeded() bool {
	return o == GroupSuccess || o == GroupSuccessNavFailed
}

// Failed reports whether the group counts as failed in the tally.
func (o GroupOutcome) Failed() bool {
	return o == GroupFailed || o == GroupFailedNoRetry
}

// BatchSummary is the end-of-batch tally.
type BatchSummary struct {
	Total         int      `json:"total"`
	StartOrdinal  int      `json:"start_ordinal"`
	Processed     int      `json:"processed"`
	Succeeded     int      `json:"succeeded"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	ManualReview  []string `json:"manual_review,omitempty"`
	NavigationFix []string `json:"navigation_fix,omitempty"`
	Interrupted   bool     `json:"interrupted,omitempty"`
}
