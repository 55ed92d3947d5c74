package indicator

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Kind is the class of observable an indicator refers to.
type Kind string

const (
	KindIP     Kind = "ip"
	KindDomain Kind = "domain"
	KindURL    Kind = "url"
	KindHash   Kind = "hash"
)

// ErrInvalidIndicator is returned for values that parse as no known kind.
// Structurally invalid input is the one error class that is fatal to a call.
var ErrInvalidIndicator = errors.New("invalid indicator")

// Indicator is an immutable value object. Equality is value+kind.
type Indicator struct {
	Value string `json:"value"`
	Kind  Kind   `json:"kind"`
}

var (
	domainRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	hashRe   = regexp.MustCompile(`^[a-fA-F0-9]{32}$|^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$`)
)

// New validates value against the given kind.
func New(value string, kind Kind) (Indicator, error) {
	value = strings.TrimSpace(value)
	switch kind {
	case KindIP:
		ip := net.ParseIP(value)
		if ip == nil {
			return Indicator{}, fmt.Errorf("%w: %q is not an IP address", ErrInvalidIndicator, value)
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
			return Indicator{}, fmt.Errorf("%w: %q is a reserved address", ErrInvalidIndicator, value)
		}
	case KindDomain:
		v := strings.ToLower(strings.TrimSuffix(value, "."))
		if !domainRe.MatchString(v) {
			return Indicator{}, fmt.Errorf("%w: %q is not a domain", ErrInvalidIndicator, value)
		}
		value = v
	case KindURL:
		u, err := url.Parse(value)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return Indicator{}, fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidIndicator, value)
		}
	case KindHash:
		if !hashRe.MatchString(value) {
			return Indicator{}, fmt.Errorf("%w: %q is not an MD5/SHA1/SHA256 hash", ErrInvalidIndicator, value)
		}
		value = strings.ToLower(value)
	default:
		return Indicator{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidIndicator, kind)
	}
	return Indicator{Value: value, Kind: kind}, nil
}

// Parse infers the kind from the shape of the value. Order matters: a SHA256
// hex string would also match the domain pattern's charset, so hashes are
// tried before domains.
func Parse(value string) (Indicator, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Indicator{}, fmt.Errorf("%w: empty value", ErrInvalidIndicator)
	}
	if net.ParseIP(value) != nil {
		return New(value, KindIP)
	}
	if strings.Contains(value, "://") {
		return New(value, KindURL)
	}
	if hashRe.MatchString(value) {
		return New(value, KindHash)
	}
	if domainRe.MatchString(strings.ToLower(strings.TrimSuffix(value, "."))) {
		return New(value, KindDomain)
	}
	return Indicator{}, fmt.Errorf("%w: %q matches no known kind", ErrInvalidIndicator, value)
}

// Key is the canonical cache/dedup key component for this indicator.
func (i Indicator) Key() string {
	return string(i.Kind) + "|" + i.Value
}

// Host returns the hostname to query sources with: the URL host for URL
// indicators, the value itself otherwise.
func (i Indicator) Host() string {
	if i.Kind == KindURL {
		if u, err := url.Parse(i.Value); err == nil {
			return u.Hostname()
		}
	}
	return i.Value
}
