package soar

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// dnsLookupTimeout bounds the resolution done during validation.
const dnsLookupTimeout = 5 * time.Second

// WebhookPolicy decides which enforcement endpoints may be called.
type WebhookPolicy struct {
	// AllowPrivate permits plain http and private or loopback addresses.
	// Firewall managers and EDR consoles usually live on internal networks.
	AllowPrivate bool
	// Allowlist restricts hostnames when non-empty. Entries may be exact
	// names, "*.example.com" wildcards, IPs or CIDRs.
	Allowlist []string
}

// ValidateWebhookURL checks rawURL against policy and returns the address the
// request must be sent to. Callers pin the connection to that address with
// NewPinnedClient so a DNS answer cannot change between check and use.
func ValidateWebhookURL(ctx context.Context, rawURL string, policy WebhookPolicy) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "https":
	case scheme == "http" && policy.AllowPrivate:
	default:
		return "", fmt.Errorf("SSRF: protocol not allowed: %q", u.Scheme)
	}

	hostname := u.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("SSRF: missing hostname in URL")
	}
	hostnameL := strings.ToLower(hostname)

	if len(policy.Allowlist) > 0 && !isInAllowlist(hostname, hostnameL, policy.Allowlist) {
		return "", fmt.Errorf("SSRF: hostname %s is not in allowlist", hostname)
	}
	if isCloudMetadataHost(hostnameL) {
		return "", fmt.Errorf("SSRF: cloud metadata endpoint not allowed: %s", hostname)
	}
	if hostnameL == "localhost" && !policy.AllowPrivate {
		return "", fmt.Errorf("SSRF: localhost not allowed")
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if blocked(ip, policy) {
			return "", fmt.Errorf("SSRF: private/internal IP not allowed: %s", hostname)
		}
		return ip.String(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", fmt.Errorf("SSRF: DNS lookup failed for %s: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("SSRF: no addresses resolved for %s", hostname)
	}

	// Every answer must pass, not just the one we dial.
	for _, a := range addrs {
		if blocked(a.IP, policy) {
			return "", fmt.Errorf("SSRF: %s resolves to private/internal IP %s", hostname, a.IP)
		}
	}
	return addrs[0].IP.String(), nil
}

func blocked(ip net.IP, policy WebhookPolicy) bool {
	if isCloudMetadataIP(ip) {
		return true
	}
	return !policy.AllowPrivate && isPrivateOrInternalIP(ip)
}

var cloudMetadataIPs = []string{
	"169.254.169.254",
	"169.254.169.253",
	"169.254.170.2",
	"100.100.100.200",
}

func isCloudMetadataIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	s := ip.String()
	for _, m := range cloudMetadataIPs {
		if s == m {
			return true
		}
	}
	return false
}

func isCloudMetadataHost(hostnameL string) bool {
	switch hostnameL {
	case "metadata", "metadata.google.internal", "metadata.google.com":
		return true
	}
	return false
}

var (
	blockedV4 = mustParseCIDRs(
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"192.0.0.0/24",
		"192.0.2.0/24",
		"198.51.100.0/24",
		"203.0.113.0/24",
		"198.18.0.0/15",
		"240.0.0.0/4",
		"0.0.0.0/8",
		"224.0.0.0/4",
	)
	blockedV6 = mustParseCIDRs(
		"::1/128",
		"fe80::/10",
		"fc00::/7",
		"ff00::/8",
	)
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// isPrivateOrInternalIP covers loopback, RFC1918, link-local, shared,
// documentation, multicast and reserved ranges for both families.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func isPrivateOrInternalIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		for _, n := range blockedV4 {
			if n.Contains(v4) {
				return true
			}
		}
		return v4.Equal(net.IPv4bcast)
	}
	for _, n := range blockedV6 {
		if n.Contains(ip) {
			return true
		}
	}
	return ip.IsUnspecified()
}

// NewPinnedClient returns a client that always dials resolvedIP while keeping
// the original hostname for TLS verification. Redirects are never followed.
func NewPinnedClient(targetURL, resolvedIP string, timeout time.Duration) (*http.Client, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target URL: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		port = "80"
		if parsed.Scheme == "https" {
			port = "443"
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialPort := port
			if _, p, err := net.SplitHostPort(addr); err == nil {
				dialPort = p
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(resolvedIP, dialPort))
		},
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: parsed.Hostname(),
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// isInAllowlist matches exact names, "*.domain" wildcards, IPs and CIDRs.
func isInAllowlist(hostname, hostnameLower string, allowlist []string) bool {
	ip := net.ParseIP(hostname)
	for _, entry := range allowlist {
		entry = strings.TrimSpace(strings.ToLower(entry))
		if entry == "" {
			continue
		}
		if entry == hostnameLower {
			return true
		}
		if strings.HasPrefix(entry, "*.") {
			domain := entry[2:]
			if hostnameLower == domain || strings.HasSuffix(hostnameLower, "."+domain) {
				return true
			}
		}
		if ip != nil {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}
