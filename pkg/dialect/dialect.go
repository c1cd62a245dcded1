// Package dialect captures the differences between Emby and Jellyfin
// servers: how credentials travel on REST calls and where the push channel
// lives. The dialect is picked from the ping body on every connect.
package dialect

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Kind identifies a server flavour.
type Kind int

const (
	Unknown Kind = iota
	Emby
	Jellyfin
)

func (k Kind) String() string {
	switch k {
	case Emby:
		return "emby"
	case Jellyfin:
		return "jellyfin"
	default:
		return "unknown"
	}
}

// Detect classifies a server from the body of its ping endpoint. Emby answers
// "Emby Server", Jellyfin answers "\"Jellyfin Server\"".
func Detect(ping string) Kind {
	if strings.HasPrefix(strings.ToLower(ping), "emby") {
		return Emby
	}
	if strings.HasPrefix(strings.ToLower(strings.Trim(ping, `"`)), "jellyfin") {
		return Jellyfin
	}
	return Unknown
}

// ClientIdentity is how the connector presents itself to the server.
type ClientIdentity struct {
	Name       string
	DeviceName string
	DeviceID   string
	Version    string
}

// Strategy applies a dialect's authentication rules. Unknown servers get
// the Emby rules.
type Strategy struct {
	kind   Kind
	client ClientIdentity
}

// New returns the strategy for kind.
func New(kind Kind, client ClientIdentity) *Strategy {
	return &Strategy{kind: kind, client: client}
}

// Kind returns the dialect the strategy implements.
func (s *Strategy) Kind() Kind { return s.kind }

// Client returns the identity presented to the server.
func (s *Strategy) Client() ClientIdentity { return s.client }

// Authorize adds client identity and token to req.
func (s *Strategy) Authorize(req *http.Request, token string) {
	if s.kind == Jellyfin {
		req.Header.Set("X-Emby-Authorization", s.authorizationHeader(token))
		return
	}

	q := req.URL.Query()
	for k, v := range s.queryParams(token) {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
}

// authorizationHeader renders the MediaBrowser authorization value.
func (s *Strategy) authorizationHeader(token string) string {
	v := fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		s.client.Name, s.client.DeviceName, s.client.DeviceID, s.client.Version)
	if token != "" {
		v += fmt.Sprintf(`, Token="%s"`, token)
	}
	return v
}

func (s *Strategy) queryParams(token string) map[string]string {
	p := map[string]string{
		"X-Emby-Client":         s.client.Name,
		"X-Emby-Device-Name":    s.client.DeviceName,
		"X-Emby-Device-Id":      s.client.DeviceID,
		"X-Emby-Client-Version": s.client.Version,
	}
	if token != "" {
		p["X-Emby-Token"] = token
	}
	return p
}

// WebsocketURL returns the push channel address for a server reachable at
// baseURL. http becomes ws and https becomes wss.
func (s *Strategy) WebsocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("dialect: parse base url: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("dialect: unsupported scheme %q", u.Scheme)
	}

	q := url.Values{}
	if s.kind == Jellyfin {
		u.Path += "/socket"
		if token != "" {
			q.Set("api_key", token)
		}
	} else {
		u.Path += "/embywebsocket"
		if token != "" {
			q.Set("api_key", token)
			q.Set("deviceId", s.client.DeviceID)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// WebsocketHeader returns the headers sent with the push channel handshake.
func (s *Strategy) WebsocketHeader(token string) http.Header {
	h := make(http.Header)
	if s.kind == Jellyfin {
		h.Set("X-Emby-Authorization", s.authorizationHeader(token))
	}
	return h
}
