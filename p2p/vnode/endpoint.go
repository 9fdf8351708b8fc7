/*
 * Copyright 2019 The go-vite Authors
 * This file is part of the go-vite library.
 *
 * The go-vite library is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * The go-vite library is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with the go-vite library. If not, see <http://www.gnu.org/licenses/>.
 */

package vnode

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

const DefaultPort = 30300

const loopback = "localhost"

var errInvalidHost = errors.New("invalid Host")
var errInvalidPort = errors.New("invalid Port")

// EndPoint is a dial target or an observed remote address.
// It is comparable, so it can be used as map key.
type EndPoint struct {
	// Host is a domain, an IPv4 address or an IPv6 address without brackets
	Host string
	Port int
}

// String return domain:port or IPv4:port or [IPv6]:port
func (e EndPoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero return true if e has neither host nor port
func (e EndPoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// IsUnspecified return true if host is 0.0.0.0 or ::
func (e EndPoint) IsUnspecified() bool {
	ip := net.ParseIP(e.Host)
	return ip != nil && ip.IsUnspecified()
}

func (e EndPoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EndPoint) UnmarshalText(text []byte) (err error) {
	*e, err = ParseEndPoint(string(text))
	return
}

func normalizeHost(hostname string) (string, error) {
	if hostname == "" {
		return "", errMissHost
	}
	if hostname == loopback {
		return "127.0.0.1", nil
	}
	if strings.ContainsAny(hostname, "[]") {
		return "", errInvalidHost
	}
	if ip := net.ParseIP(hostname); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String(), nil
		}
		return ip.String(), nil
	}

	return hostname, nil
}

func parsePort(str string) (int, error) {
	p, err := strconv.ParseUint(str, 10, 16)
	if err != nil || p == 0 {
		return 0, errInvalidPort
	}

	return int(p), nil
}

// ParseEndPoint parse a string to EndPoint
// host MUST format one of the following styles:
// 1. [IP]:port
// 2. [IP]
// 3. hostname:port
// 4. hostname
// 5. IPv4:port
// 6. IPv4
// DefaultPort is used if port is missing.
func ParseEndPoint(host string) (e EndPoint, err error) {
	host = strings.TrimSpace(host)
	if host == "" {
		err = errMissHost
		return
	}

	hostname, port := host, ""
	if h, p, err2 := net.SplitHostPort(host); err2 == nil {
		hostname, port = h, p
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		hostname = host[1 : len(host)-1]
	}

	e.Host, err = normalizeHost(hostname)
	if err != nil {
		return
	}

	e.Port = DefaultPort
	if port != "" {
		e.Port, err = parsePort(port)
	}

	return
}

// FromAddr build EndPoint from a net.Addr, eg. the remote address of an accepted connection
func FromAddr(addr net.Addr) (e EndPoint) {
	if addr == nil {
		return
	}

	if tcp, ok := addr.(*net.TCPAddr); ok {
		e.Port = tcp.Port
		e.Host, _ = normalizeHost(tcp.IP.String())
		return
	}

	e, _ = ParseEndPoint(addr.String())
	return
}
