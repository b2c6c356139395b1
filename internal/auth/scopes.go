package auth

// Scopes understood by the sync API.
const (
	ScopeSyncWrite    = "sync:write"
	ScopeSleepRead    = "sleep:read"
	ScopeSyncDelegate = "sync:delegate"
)
