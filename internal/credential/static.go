// Package credential supplies the bearer token of the real-time stream and
// publishes session signals when it changes.
package credential

import "strings"

// Static is a fixed bearer token. An empty value means no credentials.
type Static string

func (s Static) Token() (string, bool) {
	token := strings.TrimSpace(string(s))
	return token, token != ""
}
