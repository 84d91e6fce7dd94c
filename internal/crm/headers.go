package crm

import (
	"net/http"
	"strings"
)

const defaultUserAgent = "fub-assistant"

// headerBuilder stamps the headers every CRM request carries. The system
// pair identifies this integration to Follow Up Boss when registered.
type headerBuilder struct {
	system    string
	systemKey string
	userAgent string
}

func newHeaderBuilder(system, systemKey string) headerBuilder {
	return headerBuilder{
		system:    strings.TrimSpace(system),
		systemKey: strings.TrimSpace(systemKey),
		userAgent: defaultUserAgent,
	}
}

func (b headerBuilder) apply(h http.Header, accessToken string, hasBody bool) {
	h.Set("Accept", "application/json")
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("User-Agent", b.userAgent)
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(accessToken); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if b.system != "" {
		h.Set("X-System", b.system)
	}
	if b.systemKey != "" {
		h.Set("X-System-Key", b.systemKey)
	}
}
