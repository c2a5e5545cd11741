package domain

// Product is a fixed-term investment offer. Read-only for the ledger.
type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	Roi          int64  `json:"roi"`
	DurationDays int    `json:"duration_days"`
	IsActive     bool   `json:"is_active"`
	SortOrder    int    `json:"sort_order"`
}
