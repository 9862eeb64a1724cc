package api

import (
	"context"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ResourceKind distinguishes the two kinds of resource a World can own.
type ResourceKind string

const (
	KindService  ResourceKind = "service"
	KindImposter ResourceKind = "imposter"
)

// ParseResourceKind parses the `type` field of an environment declaration.
func ParseResourceKind(s string) (ResourceKind, bool) {
	switch ResourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindService:
		return KindService, true
	case KindImposter:
		return KindImposter, true
	default:
		return "", false
	}
}

// ServiceLocation is an addressable endpoint descriptor. It is a value type;
// copies handed out by services and imposters never change.
type ServiceLocation struct {
	Protocol string            `json:"protocol" yaml:"protocol"`
	Hostname string            `json:"hostname" yaml:"hostname"`
	Port     int               `json:"port" yaml:"port"`
	Auth     string            `json:"auth,omitempty" yaml:"auth,omitempty"`
	Query    map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
}

// NewLocation returns a location without auth or query.
func NewLocation(protocol, hostname string, port int) ServiceLocation {
	return ServiceLocation{Protocol: protocol, Hostname: hostname, Port: port}
}

// HostPort returns "hostname:port".
func (l ServiceLocation) HostPort() string {
	return net.JoinHostPort(l.Hostname, strconv.Itoa(l.Port))
}

// URL renders the location as a URL. Auth is "user" or "user:password".
func (l ServiceLocation) URL() string {
	u := url.URL{
		Scheme: l.Protocol,
		Host:   l.HostPort(),
	}
	if l.Auth != "" {
		user, pass, hasPass := strings.Cut(l.Auth, ":")
		if hasPass {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	if len(l.Query) > 0 {
		keys := make([]string, 0, len(l.Query))
		for k := range l.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		q := url.Values{}
		for _, k := range keys {
			q.Set(k, l.Query[k])
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// WithQuery returns a copy of the location with the given query parameters.
// The receiver is left untouched.
func (l ServiceLocation) WithQuery(query map[string]string) ServiceLocation {
	copied := make(map[string]string, len(query))
	for k, v := range query {
		copied[k] = v
	}
	l.Query = copied
	return l
}

// WithAuth returns a copy of the location carrying the given userinfo.
func (l ServiceLocation) WithAuth(auth string) ServiceLocation {
	if l.Query != nil {
		l = l.WithQuery(l.Query)
	}
	l.Auth = auth
	return l
}

// Resource is anything a World owns and must stop at teardown: services and
// imposters.
type Resource interface {
	Name() string
	Kind() ResourceKind
	Location() ServiceLocation
	// Stop releases the resource. Calling Stop on a stopped resource is a no-op.
	Stop(ctx context.Context) error
}
