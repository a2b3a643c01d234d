package realtime

import (
	"net/url"
	"strings"

	"github.com/yanun0323/errors"

	"meshdash/pkg/exception"
)

const messagesPath = "/ws/messages/"

// Endpoint builds the message stream URL from the HTTP(S) base of the
// backend: the scheme becomes ws/wss, the base path is kept as a prefix and
// the bearer token travels in the token query parameter.
func Endpoint(base string, token string) (string, error) {
	u, err := parseBase(base)
	if err != nil {
		return "", err
	}

	u.Path = strings.TrimRight(u.Path, "/") + messagesPath
	u.RawPath = ""
	u.Fragment = ""
	query := url.Values{}
	query.Set("token", token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func parseBase(base string) (*url.URL, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.Wrap(exception.ErrInvalidEndpoint, "empty base url")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(exception.ErrInvalidEndpoint, "parse base url, err: "+err.Error())
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, errors.Wrap(exception.ErrInvalidEndpoint, "unsupported scheme "+u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.Wrap(exception.ErrInvalidEndpoint, "missing host")
	}
	u.User = nil
	return u, nil
}
