// Package device classifies the client device behind a request so sessions
// can record where they were opened from.
package device

import (
	"net/http"
	"strings"
)

// Device type labels stored on sessions.
const (
	TypeMobile  = "mobile"
	TypeTablet  = "tablet"
	TypeDesktop = "desktop"
	TypeUnknown = "unknown"
)

var tabletKeywords = []string{"ipad", "tablet", "kindle", "silk", "playbook"}

var mobileKeywords = []string{
	"android", "iphone", "ipod", "windows phone", "blackberry",
	"mobile", "opera mini", "opera mobi", "webos", "symbian",
}

// DetectType classifies a User-Agent string into one of the device type
// labels. Tablets are checked first since their user agents often also
// contain mobile keywords.
func DetectType(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return TypeUnknown
	}

	for _, keyword := range tabletKeywords {
		if strings.Contains(ua, keyword) {
			return TypeTablet
		}
	}
	for _, keyword := range mobileKeywords {
		if strings.Contains(ua, keyword) {
			return TypeMobile
		}
	}
	return TypeDesktop
}

// FromRequest resolves the device type for an incoming request. An explicit
// X-Device-Type header wins over User-Agent sniffing so native apps can
// label themselves.
func FromRequest(r *http.Request) string {
	if explicit := strings.TrimSpace(r.Header.Get("X-Device-Type")); explicit != "" {
		return strings.ToLower(explicit)
	}
	return DetectType(r.UserAgent())
}
