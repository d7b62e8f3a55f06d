package logger

import "strings"

// RedactToken masks an access or refresh token for safe logging.
// "Atza|IwEBIEXAMPLETOKEN" → "Atza|IwE***"
// Tokens of 8 chars or fewer are fully masked.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}

var secretKeyHints = []string{"token", "secret", "password", "credential", "authorization"}

func redactSecretValue(key, val string) string {
	key = strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(key, hint) {
			return RedactToken(val)
		}
	}
	return val
}
