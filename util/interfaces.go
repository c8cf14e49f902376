package util

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrInterfaceDown = errors.New("interface is down")
	ErrNoAddress     = errors.New("interface has no usable address")
)

// SourceAddr picks the address probes should be sent from when bound to
// ifaceName. Global addresses win over link-local ones.
func SourceAddr(ifaceName string, ipv6 bool) (string, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return "", fmt.Errorf("lookup interface %s: %w", ifaceName, err)
	}
	if !IsUp(iface) {
		return "", fmt.Errorf("%s: %w", ifaceName, ErrInterfaceDown)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("list addresses of %s: %w", ifaceName, err)
	}

	return pickAddr(addrs, ifaceName, ipv6)
}

func pickAddr(addrs []net.Addr, ifaceName string, ipv6 bool) (string, error) {
	var linkLocal string
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.String())
		if err != nil {
			continue
		}
		if IsIPv6(ip.String()) != ipv6 {
			continue
		}
		if ip.IsLinkLocalUnicast() {
			if linkLocal == "" {
				linkLocal = ip.String()
			}
			continue
		}
		return ip.String(), nil
	}
	if linkLocal != "" {
		if ipv6 {
			return linkLocal + "%" + ifaceName, nil
		}
		return linkLocal, nil
	}

	return "", fmt.Errorf("%s: %w", ifaceName, ErrNoAddress)
}

func IsIPv6(address string) bool {
	return strings.Count(address, ":") >= 2
}

func IsUp(nif *net.Interface) bool { return nif.Flags&net.FlagUp != 0 }
