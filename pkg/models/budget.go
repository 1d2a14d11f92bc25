package models

// RunBudget caps the total tokens a single run may spend on external
// calls. Cache hits are free and are always served.
type RunBudget struct {
	Enabled        bool  `json:"enabled" yaml:"enabled"`
	MaxTotalTokens int64 `json:"max_total_tokens" yaml:"max_total_tokens"`
}

// BudgetStatus shows current spend against the run budget.
type BudgetStatus struct {
	Budget    RunBudget `json:"budget"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
}
