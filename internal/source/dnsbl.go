package source

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
)

// DNSBL queries a DNS blocklist zone. IPs are looked up with reversed octets
// (1.2.3.4 -> 4.3.2.1.zone), domains and URL hosts directly (host.zone).
// A listing answer means malicious; NXDOMAIN means the zone does not know
// the indicator, which for blocklists reads as clean.
type DNSBL struct {
	base
	zone     string
	resolver *net.Resolver
}

func NewDNSBL(name, zone string, reliability float64, timeout time.Duration, deepOnly bool) *DNSBL {
	return &DNSBL{
		base:     base{name: name, typ: "dnsbl", reliability: reliability, timeout: timeout, deepOnly: deepOnly},
		zone:     zone,
		resolver: &net.Resolver{},
	}
}

func (s *DNSBL) Query(ctx context.Context, ind indicator.Indicator) (intel.Finding, error) {
	started := time.Now()

	qname, ok := s.queryName(ind)
	if !ok {
		// Hashes have no DNSBL representation; abstain without failing.
		f := s.finding(intel.VerdictUnknown, 0.1, started)
		return f, nil
	}

	addrs, err := s.resolver.LookupHost(ctx, qname)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return s.finding(intel.VerdictClean, 0.7, started), nil
		}
		if ctx.Err() != nil {
			return intel.Finding{}, ErrSourceTimeout
		}
		return intel.Finding{}, err
	}

	if len(addrs) == 0 {
		return s.finding(intel.VerdictClean, 0.7, started), nil
	}

	f := s.finding(intel.VerdictMalicious, 0.9, started)
	// Return-code convention: 127.0.0.x encodes the listing category.
	for _, a := range addrs {
		if strings.HasPrefix(a, "127.0.0.") {
			f.MalwareFamilies = append(f.MalwareFamilies, "dnsbl:"+s.zone)
			break
		}
	}
	return f, nil
}

func (s *DNSBL) queryName(ind indicator.Indicator) (string, bool) {
	switch ind.Kind {
	case indicator.KindIP:
		ip := net.ParseIP(ind.Value).To4()
		if ip == nil {
			return "", false // v6 zones use nibble encoding; not supported here
		}
		return strings.Join([]string{
			strconv.Itoa(int(ip[3])), strconv.Itoa(int(ip[2])), strconv.Itoa(int(ip[1])), strconv.Itoa(int(ip[0])), s.zone,
		}, "."), true
	case indicator.KindDomain, indicator.KindURL:
		return ind.Host() + "." + s.zone, true
	default:
		return "", false
	}
}
