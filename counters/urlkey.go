package counters

import (
	"net/url"
	"strings"
)

// ConfigurationKey selects a running-phase configuration override.
type ConfigurationKey interface {
	Equal(other ConfigurationKey) bool
	String() string
}

// ConfigurationKeyed is implemented by probes that can be matched against
// running-phase overrides.
type ConfigurationKeyed interface {
	ConfigurationKey() ConfigurationKey
}

// RelativeURLConfigurationKey matches probes by the URL they observe.
//
// Two keys are compared on path and query when either URL is absolute, and
// case-insensitively. When either key asks for an exact match the strings must
// be equal; otherwise one must be a prefix of the other.
type RelativeURLConfigurationKey struct {
	URL        *url.URL
	ExactMatch bool
}

// NewRelativeURLConfigurationKey parses rawURL, which may be absolute or
// relative to the application root.
func NewRelativeURLConfigurationKey(rawURL string, exactMatch bool) (*RelativeURLConfigurationKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &RelativeURLConfigurationKey{URL: u, ExactMatch: exactMatch}, nil
}

func (k *RelativeURLConfigurationKey) String() string {
	if k == nil || k.URL == nil {
		return ""
	}
	return k.URL.String()
}

func (k *RelativeURLConfigurationKey) Equal(other ConfigurationKey) bool {
	o, ok := other.(*RelativeURLConfigurationKey)
	if !ok || k == nil || o == nil || k.URL == nil || o.URL == nil {
		return false
	}

	left, right := k.URL.String(), o.URL.String()
	if k.URL.IsAbs() || o.URL.IsAbs() {
		left, right = pathAndQuery(k.URL), pathAndQuery(o.URL)
	}
	left, right = strings.ToLower(left), strings.ToLower(right)

	if k.ExactMatch || o.ExactMatch {
		return left == right
	}
	return strings.HasPrefix(left, right) || strings.HasPrefix(right, left)
}

func pathAndQuery(u *url.URL) string {
	p := u.EscapedPath()
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
