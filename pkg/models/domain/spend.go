package domain

// UserCharge is the amount one run attributes to a single user.
type UserCharge struct {
	User         string
	ComputeSpent float64
	StorageSpent float64
}

func (c UserCharge) Total() float64 {
	return c.ComputeSpent + c.StorageSpent
}

// RankedSpend is one row of the weekly report, ranked descending by spend.
type RankedSpend struct {
	Rank  int
	User  string
	Spent float64
}

// Report holds both renderings of the weekly report.
type Report struct {
	Rows  []RankedSpend
	Total float64
	Plain string
	HTML  string
}
