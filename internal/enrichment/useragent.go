package enrichment

import (
	"strings"

	"github.com/mssola/useragent"
)

// UAResult contains parsed user-agent data
type UAResult struct {
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string
	DeviceType     string
	IsMobile       bool
	IsBot          bool
}

// ParseUserAgent parses a user-agent string
func ParseUserAgent(uaString string) *UAResult {
	ua := useragent.New(uaString)

	browserName, browserVersion := ua.Browser()
	osName := ua.OS()

	result := &UAResult{
		BrowserName:    browserName,
		BrowserVersion: browserVersion,
		OSName:         osName,
		OSVersion:      ua.OSInfo().Version,
		IsMobile:       ua.Mobile(),
		IsBot:          ua.Bot(),
	}

	switch {
	case ua.Bot():
		result.DeviceType = "bot"
	case ua.Mobile():
		result.DeviceType = "mobile"
	case isTablet(uaString):
		result.DeviceType = "tablet"
	default:
		result.DeviceType = "desktop"
	}

	return result
}

func isTablet(ua string) bool {
	for _, t := range []string{"iPad", "Tablet", "PlayBook", "Silk", "Android"} {
		if strings.Contains(ua, t) && !strings.Contains(ua, "Mobile") {
			return true
		}
	}
	return false
}
