package textutil

import "strings"

// unsafeNameChars maps characters that break paths or URL segments.
var unsafeNameChars = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName makes name safe as a single path element. Separators
// become dashes and other reserved characters are dropped.
func SanitizeFileName(name string) string {
	return strings.TrimSpace(unsafeNameChars.Replace(strings.TrimSpace(name)))
}

// SanitizeToken lowercases value and keeps only [a-z0-9_-], mapping every
// other rune to '_'. Empty results become "unknown".
func SanitizeToken(value string) string {
	token := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(value))
	if token = strings.Trim(token, "_-"); token == "" {
		return "unknown"
	}
	return token
}
