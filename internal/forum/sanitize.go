package forum

import "github.com/microcosm-cc/bluemonday"

// bodyPolicy strips scripts and event handlers from user-authored bodies
// while keeping ordinary formatting markup. Policies are safe for concurrent
// use once constructed.
var bodyPolicy = bluemonday.UGCPolicy()

// SanitizeBody returns body with disallowed HTML removed.
func SanitizeBody(body string) string {
	return bodyPolicy.Sanitize(body)
}
