package handler

// DashboardParams are the query parameters of the dashboard listing.
type DashboardParams struct {
	Page    int `validate:"gte=1"`
	PerPage int `validate:"gte=1,lte=100"` // capped to keep the join bounded
}
