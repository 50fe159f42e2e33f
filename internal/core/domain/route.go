package domain

import (
	"net"
	"strconv"
)

// Endpoint is a function exposed by a microservice that can be redirected on its own.
type Endpoint struct {
	ServiceID string `json:"service_id"`
	Function  string `json:"function"`
}

// Backend is a host:port pair a proxy can send traffic to.
type Backend struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (b Backend) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// ParseBackend parses "host:port".
func ParseBackend(addr string) (Backend, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Backend{}, ValidationError("parse backend", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Backend{}, ValidationError("parse backend", ErrInvalidPort)
	}
	if host == "" {
		return Backend{}, ValidationError("parse backend", ErrEmptyHost)
	}
	return Backend{Host: host, Port: port}, nil
}

// Route maps a gateway path pattern to a backend URL.
type Route struct {
	Key  string `json:"key"`
	Path string `json:"path"`
	URL  string `json:"url"`
	// Tombstone marks a legacy entry whose value was cleared instead of deleted.
	Tombstone bool `json:"tombstone,omitempty"`
}

// RouteKey is the deterministic key for redirecting function to host.
func RouteKey(function, host string) string {
	return "redirect_" + function + "_to_" + host
}

// NewRoute builds the gateway route that sends ep to b.
func NewRoute(ep Endpoint, b Backend) Route {
	return Route{
		Key:  RouteKey(ep.Function, b.Host),
		Path: "/" + ep.ServiceID + "/" + ep.Function + "/**",
		URL:  "http://" + b.Addr() + "/" + ep.Function + "/",
	}
}

// UpstreamGroup is a named set of backend addresses usable as one proxy target.
type UpstreamGroup struct {
	Name    string   `json:"name"`
	Servers []string `json:"servers"`
}
