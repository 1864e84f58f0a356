// Package discovery advertises the web API over mDNS.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the DNS-SD service type of the web API.
	ServiceType = "_zwave-home._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

var osHostname = os.Hostname

// Config controls the advertisement.
type Config struct {
	Instance  string        // defaults to "zwave-home-<hostname>"
	Interface string        // empty: all interfaces
	TTL       time.Duration // zero: library default
}

// Info is published in the TXT record.
type Info struct {
	HomeID  string
	Version string
	Session string
	APIPath string
}

// Advertiser publishes one service instance.
type Advertiser struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Nothing is published until Advertise.
func NewAdvertiser(config Config, logger *slog.Logger) *Advertiser {
	return &Advertiser{config: config, logger: logger.With("component", "discovery")}
}

// Advertise registers the service on port, replacing a previous registration.
func (a *Advertiser) Advertise(port int, info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	name := InstanceName(a.config.Instance)
	server, err := zeroconf.Register(name, ServiceType, Domain, port, TXTRecords(info), a.interfaces(), opts...)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server
	a.logger.Info("mdns service registered", "instance", name, "type", ServiceType, "port", port)
	return nil
}

// Stop withdraws the service.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info("mdns service withdrawn")
	}
}

// interfaces returns nil to use all interfaces.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("mdns interface not found, using all", "interface", a.config.Interface, "err", err)
		return nil
	}
	return []net.Interface{*iface}
}

// InstanceName returns name, or a host based default, cut to the DNS label limit.
func InstanceName(name string) string {
	if name == "" {
		host, err := osHostname()
		if err != nil || host == "" {
			host = "local"
		}
		if i := strings.IndexByte(host, '.'); i > 0 {
			host = host[:i]
		}
		name = "zwave-home-" + host
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// TXTRecords encodes info as sorted key=value strings, skipping empty values.
func TXTRecords(info Info) []string {
	fields := map[string]string{
		"home_id": info.HomeID,
		"version": info.Version,
		"session": info.Session,
		"path":    info.APIPath,
	}
	out := make([]string, 0, len(fields))
	for k, v := range fields {
		if v != "" {
			out = append(out, k+"="+v)
		}
	}
	sort.Strings(out)
	return out
}
