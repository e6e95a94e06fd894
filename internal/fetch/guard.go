package fetch

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrBlockedHost is returned for tag URLs that point into private address space
var ErrBlockedHost = errors.New("tag host is not a public address")

var sharedSpace = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || sharedSpace.Contains(ip)
}

// checkHost rejects literal addresses and localhost names before any request
// is made. Names that resolve privately are caught by dialControl.
func checkHost(host string) error {
	name := strings.TrimSuffix(strings.ToLower(host), ".")
	if name == "localhost" || strings.HasSuffix(name, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil && blockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	return nil
}

// dialControl runs after DNS resolution so rebinding cannot reach internal hosts.
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || blockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	return nil
}
