package browser

import (
	"net/url"
	"strings"
)

const searchURL = "https://www.google.com/search?q="

// NormalizeAddress turns address bar text into a loadable URL. Text with
// neither a scheme nor a dot is treated as a search query; anything else
// without a scheme is assumed to be https.
func NormalizeAddress(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if hasScheme(text) {
		return text
	}
	if !strings.Contains(text, ".") && !strings.HasPrefix(strings.ToLower(text), "localhost") {
		return searchURL + url.QueryEscape(text)
	}
	return "https://" + text
}

func hasScheme(text string) bool {
	lower := strings.ToLower(text)
	for _, prefix := range []string{"http://", "https://", "file://", "about:", "data:", "chrome://"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
