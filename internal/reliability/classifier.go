package reliability

// IsRetryableRealtimeCode classifies upstream realtime error codes that are
// transient. The relay never retries (a failed turn just drops), but the
// label distinguishes provider flakiness from hard failures in metrics.
func IsRetryableRealtimeCode(code string) bool {
	switch code {
	case "rate_limit_exceeded", "server_error", "session_expired", "service_unavailable":
		return true
	default:
		return false
	}
}
