package permission

import "strings"

// User-facing replacements for raw API errors. Raw error text is never
// echoed back to the end user.
const (
	msgBlocked      = "I can't send messages here. Please check that I'm not blocked and have permission to post."
	msgChatNotFound = "Chat not found. I may have been removed from it."
	msgRateLimited  = "Telegram is rate limiting me. Please try again in a moment."
	msgBadRequest   = "That request was malformed. Please try again."
	msgConfig       = "There's a configuration problem on my side. Please contact the administrator."
	msgGeneric      = "Something went wrong. Please try again later."
)

// errorCategory pairs case-insensitive substrings with a safe message.
// Categories are checked in priority order; first match wins.
type errorCategory struct {
	substrings []string
	message    string
	// credential marks categories whose raw error should be logged
	// server-side because it may indicate a leaked token.
	credential bool
}

var errorCategories = []errorCategory{
	{substrings: []string{"blocked by the user", "forbidden"}, message: msgBlocked},
	{substrings: []string{"chat not found"}, message: msgChatNotFound},
	{substrings: []string{"too many requests"}, message: msgRateLimited},
	{substrings: []string{"bad request"}, message: msgBadRequest},
	{substrings: []string{"unauthorized", "token"}, message: msgConfig, credential: true},
}

// SanitizeError maps a raw error to a safe user-facing message. The
// unauthorized/token category additionally logs the raw error, since it may
// point at a credential problem worth investigating.
func (g *Gate) SanitizeError(err error) string {
	if err == nil {
		return msgGeneric
	}

	raw := strings.ToLower(err.Error())
	for _, cat := range errorCategories {
		for _, sub := range cat.substrings {
			if strings.Contains(raw, sub) {
				if cat.credential {
					g.logger.Error("possible credential problem in API error",
						"error", err,
					)
				}
				return cat.message
			}
		}
	}
	return msgGeneric
}
