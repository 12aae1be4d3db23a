package stages

import "regexp"

var adminRE = regexp.MustCompile(`(?i)\b(reset|clear|wipe)\b`)

// IsAdminRequest reports whether request is a workspace management command
// (reset, clear, wipe). These bypass classification entirely.
func IsAdminRequest(request string) bool {
	return adminRE.MatchString(request)
}
