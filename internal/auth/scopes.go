package auth

// Known OAuth scopes used by the dashboard API.
const (
	ScopeHealthRead  = "health:read"
	ScopeHealthWrite = "health:write"
)
