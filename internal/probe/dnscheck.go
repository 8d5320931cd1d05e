package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

type DNSClass string

const (
	DNSResolves      DNSClass = "RESOLVES"
	DNSNXDomain      DNSClass = "NXDOMAIN"
	DNSNoARecord     DNSClass = "NO_A_RECORD"
	DNSServfailOrTTL DNSClass = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName   DNSClass = "INVALID_NAME"
)

// DNSStatus explains why a host may be unreachable.
type DNSStatus struct {
	Host          string
	IPs           []net.IP
	CNAME         string
	Nameservers   []string
	Class         DNSClass
	ResolverError string
}

var dnsTimeout = 3 * time.Second

// Resolver is the subset of *net.Resolver used for diagnostics.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

// Diagnose classifies the host of rawURL. It is only used to enrich logs for
// offline results; it never changes a classification.
func Diagnose(ctx context.Context, r Resolver, rawURL string) DNSStatus {
	s := DNSStatus{Host: hostOf(rawURL)}
	if s.Host == "" || strings.Contains(s.Host, "://") {
		s.Class = DNSInvalidName
		return s
	}
	if ip := net.ParseIP(s.Host); ip != nil {
		s.IPs = []net.IP{ip}
		s.Class = DNSResolves
		return s
	}
	if r == nil {
		r = net.DefaultResolver
	}

	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := r.LookupIP(ctx, "ip", s.Host)
	if err == nil && len(ips) > 0 {
		s.IPs = ips
		s.Class = DNSResolves
	} else if err != nil {
		s.ResolverError = err.Error()
		var de *net.DNSError
		if errors.As(err, &de) {
			if de.IsNotFound {
				s.Class = DNSNXDomain
			} else if de.IsTemporary || de.Timeout() {
				s.Class = DNSServfailOrTTL
			}
		}
	}

	if cname, err := r.LookupCNAME(ctx, s.Host); err == nil && !strings.EqualFold(cname, s.Host+".") {
		s.CNAME = strings.TrimSuffix(cname, ".")
	}

	if ns, err := r.LookupNS(ctx, s.Host); err == nil && len(ns) > 0 {
		for _, n := range ns {
			s.Nameservers = append(s.Nameservers, strings.TrimSuffix(n.Host, "."))
		}
		if s.Class == DNSNXDomain {
			s.Class = DNSNoARecord
		}
	}

	if s.Class == "" {
		switch {
		case len(s.IPs) > 0:
			s.Class = DNSResolves
		case len(s.Nameservers) > 0:
			s.Class = DNSNoARecord
		case s.ResolverError != "":
			s.Class = DNSServfailOrTTL
		default:
			s.Class = DNSNXDomain
		}
	}
	return s
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
