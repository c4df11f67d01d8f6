package walletconnect

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URI is a parsed "wc:" pairing URI. The embedded version tag decides which
// protocol stack handles the pairing.
type URI struct {
	Topic   string
	Version int
	Params  url.Values
}

// ParseURI parses "wc:{topic}@{version}?{params}". Both protocol versions
// share this outer shape; only the query parameters differ (v1 carries
// bridge and key, v2 carries relay-protocol and symKey).
func ParseURI(raw string) (URI, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "wc:") {
		return URI{}, fmt.Errorf("not a walletconnect uri: %q", raw)
	}
	rest := strings.TrimPrefix(trimmed, "wc:")
	rest = strings.TrimPrefix(rest, "//")

	var query string
	if idx := strings.Index(rest, "?"); idx >= 0 {
		rest, query = rest[:idx], rest[idx+1:]
	}
	topic, versionTag, found := strings.Cut(rest, "@")
	if !found || topic == "" {
		return URI{}, fmt.Errorf("walletconnect uri missing version tag: %q", raw)
	}
	version, err := strconv.Atoi(versionTag)
	if err != nil {
		return URI{}, fmt.Errorf("walletconnect uri has malformed version %q", versionTag)
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return URI{}, fmt.Errorf("walletconnect uri has malformed query: %w", err)
	}
	return URI{Topic: topic, Version: version, Params: params}, nil
}
