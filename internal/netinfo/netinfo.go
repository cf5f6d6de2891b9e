// Package netinfo reports the device's primary network identity.
package netinfo

import (
	"fmt"
	"net"
)

// Primary returns the IPv4 address and MAC of the first interface that is
// up, not loopback, and has an IPv4 address assigned.
func Primary() (ip, mac string, err error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", "", err
	}
	return primary(ifaces, func(iface net.Interface) ([]net.Addr, error) {
		return iface.Addrs()
	})
}

func primary(ifaces []net.Interface, addrsOf func(net.Interface) ([]net.Addr, error)) (string, string, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := addrsOf(iface)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch a := addr.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			}
			if ip4 := ip.To4(); ip4 != nil {
				return ip4.String(), iface.HardwareAddr.String(), nil
			}
		}
	}
	return "", "", fmt.Errorf("no up, non-loopback interface with an IPv4 address")
}
