package types

// CreateOrderResponse is returned once an order has been placed
type CreateOrderResponse struct {
	Order           *Order      `json:"order"`
	AccountType     AccountType `json:"accountType"`
	ExecutionTimeMs int64       `json:"executionTimeMs"`
}

// Pagination describes a page of a list response
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// OrderListResponse is a page of orders owned by the requesting user
type OrderListResponse struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

// BalanceResponse reports the folded balance of one account
type BalanceResponse struct {
	AccountType AccountType `json:"accountType"`
	Balance     int64       `json:"balance"`
}
