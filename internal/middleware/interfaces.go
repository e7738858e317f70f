package middleware

// DailyLimiter admits or refuses one request against the process-wide daily ceiling.
// Every call to Allow counts as a request.
type DailyLimiter interface {
	Allow() bool
}

// IPHasher pseudonymizes client addresses before they reach logs or storage
type IPHasher interface {
	HashIP(ip string) string
}
