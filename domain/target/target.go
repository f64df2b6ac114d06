// Package target defines the sites a run visits.
package target

import (
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Target is one site identifier from the target list.
type Target struct {
	// Raw is the line as read from the target list.
	Raw string

	// URL is the scheme-qualified address to navigate to.
	URL string

	// Hostname is the lower-cased host without a leading "www.".
	Hostname string

	// RootDomain is the registrable domain used to look up the injected program.
	RootDomain string
}

// Parse derives a Target from a raw target list entry.
func Parse(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("empty target")
	}

	full := raw
	if !strings.HasPrefix(full, "http://") && !strings.HasPrefix(full, "https://") {
		full = "https://" + full
	}

	u, err := url.Parse(full)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", raw, err)
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return Target{}, fmt.Errorf("target %q has no hostname", raw)
	}
	hostname = strings.TrimPrefix(hostname, "www.")

	return Target{
		Raw:        raw,
		URL:        full,
		Hostname:   hostname,
		RootDomain: rootDomain(hostname),
	}, nil
}

// rootDomain returns the label before the ICANN public suffix plus that
// suffix, so foo.github.io maps to github.io. Hostnames the list cannot place
// (IP addresses, single-label hosts, unknown suffixes) are returned as is.
func rootDomain(hostname string) string {
	if net.ParseIP(hostname) != nil {
		return hostname
	}
	suffix := icannSuffix(hostname)
	if suffix == "" || suffix == hostname {
		return hostname
	}
	rest := strings.TrimSuffix(hostname, "."+suffix)
	return rest[strings.LastIndex(rest, ".")+1:] + "." + suffix
}

// icannSuffix returns the ICANN public suffix of hostname, looking past
// private entries. It is empty when only the default rule matched.
func icannSuffix(hostname string) string {
	suffix, icann := publicsuffix.PublicSuffix(hostname)
	for !icann {
		i := strings.IndexByte(suffix, '.')
		if i < 0 {
			return ""
		}
		suffix, icann = publicsuffix.PublicSuffix(suffix[i+1:])
	}
	return suffix
}

// String returns the raw target.
func (t Target) String() string {
	return t.Raw
}

// Shuffle permutes targets in place.
func Shuffle(targets []Target, rng *rand.Rand) {
	rng.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
}
