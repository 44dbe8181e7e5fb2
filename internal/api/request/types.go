package request

// LoginRequest is the request body for logging in by nickname
type LoginRequest struct {
	Nickname string `json:"nickname"`
}

// GrantRequest is the request body for an admin spin grant.
// Exactly one of Amount and Preset is set.
type GrantRequest struct {
	Nickname string `json:"nickname"`
	Amount   int64  `json:"amount,omitempty"`
	Preset   int64  `json:"preset,omitempty"`
}
