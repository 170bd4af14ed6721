package utils

import (
	"errors"
	"net"
	"time"
)

// NowAsUnixMilli returns current time in ms
func NowAsUnixMilli() uint64 {
	return uint64(time.Now().UnixNano() / 1e6)
}

// UnixMilli returns t in ms
func UnixMilli(t time.Time) uint64 {
	return uint64(t.UnixNano() / 1e6)
}

// LocalIP returns the first non-loopback IPv4 address of an interface that is up,
// falling back to 127.0.0.1
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip, err := firstIPv4(addrs); err == nil {
			return ip
		}
	}
	return "127.0.0.1"
}

func firstIPv4(addrs []net.Addr) (string, error) {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String(), nil
		}
	}
	return "", errors.New("no ipv4 address")
}
