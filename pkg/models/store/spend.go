package store

// UserSpend is the persisted document: one per user per weekly index.
// The index mapping is strict, so these two fields are the whole schema.
type UserSpend struct {
	User       string  `json:"user"`
	TotalSpent float64 `json:"total_spent"`
}
