package source

import (
	"bufio"
	"context"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
)

// suspiciousTLDs are over-represented in abuse feeds. A match alone is only
// ever suspicious, never malicious.
var suspiciousTLDs = []string{".zip", ".mov", ".top", ".xyz", ".tk", ".gq", ".ml", ".cf"}

// Rules is the offline source: a known-bad set loaded from a feed file plus
// cheap structural heuristics. It keeps the engine useful when every network
// source is down or unconfigured.
type Rules struct {
	base
	badSet map[string]struct{}
}

func NewRules(name string, reliability float64, timeout time.Duration) *Rules {
	return &Rules{
		base:   base{name: name, typ: "rules", reliability: reliability, timeout: timeout},
		badSet: make(map[string]struct{}),
	}
}

// LoadFeed reads a newline-separated feed of known-bad indicator values.
// Blank lines and # comments are skipped.
func (s *Rules) LoadFeed(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.badSet[strings.ToLower(line)] = struct{}{}
		n++
	}
	return n, sc.Err()
}

func (s *Rules) Query(ctx context.Context, ind indicator.Indicator) (intel.Finding, error) {
	started := time.Now()

	if _, bad := s.badSet[strings.ToLower(ind.Value)]; bad {
		f := s.finding(intel.VerdictMalicious, 0.9, started)
		f.MalwareFamilies = []string{"feed:known-bad"}
		return f, nil
	}
	if _, bad := s.badSet[strings.ToLower(ind.Host())]; bad && ind.Kind == indicator.KindURL {
		f := s.finding(intel.VerdictMalicious, 0.8, started)
		f.MalwareFamilies = []string{"feed:known-bad-host"}
		return f, nil
	}

	if s.suspicious(ind) {
		return s.finding(intel.VerdictSuspicious, 0.5, started), nil
	}
	return s.finding(intel.VerdictClean, 0.4, started), nil
}

func (s *Rules) suspicious(ind indicator.Indicator) bool {
	switch ind.Kind {
	case indicator.KindDomain:
		return suspiciousHost(ind.Value)
	case indicator.KindURL:
		u, err := url.Parse(ind.Value)
		if err != nil {
			return false
		}
		if u.User != nil {
			return true // credentials embedded in the URL
		}
		if net.ParseIP(u.Hostname()) != nil {
			return true // IP-literal host
		}
		if len(ind.Value) > 200 {
			return true
		}
		return suspiciousHost(u.Hostname())
	default:
		return false
	}
}

func suspiciousHost(host string) bool {
	if strings.HasPrefix(host, "xn--") || strings.Contains(host, ".xn--") {
		return true
	}
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	return strings.Count(host, ".") >= 5
}
