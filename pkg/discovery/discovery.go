// Package discovery finds a relay on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_groupmap._tcp"
	Domain  = "local."
)

var ErrNoRelay = errors.New("no relay found")

// Advertise registers a relay listening on port. Call the returned function
// to withdraw it.
func Advertise(port int, store string) (func(), error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("groupmap-%s", host),
		Service,
		Domain,
		port,
		[]string{"store=" + store},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	slog.Info("mDNS service registered", "service", Service, "port", port)
	return server.Shutdown, nil
}

// Browse returns the address of the first relay that answers before ctx is
// done.
func Browse(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			if addr, ok := entryAddr(entry); ok {
				slog.Info("mDNS discovered relay", "instance", entry.Instance, "addr", addr)
				select {
				case found <- addr:
				default:
				}
				cancel()
			}
		}
	}(entries)

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return "", fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()
	select {
	case addr := <-found:
		return addr, nil
	default:
		return "", ErrNoRelay
	}
}

func entryAddr(e *zeroconf.ServiceEntry) (string, bool) {
	if e == nil || e.Port == 0 {
		return "", false
	}
	port := strconv.Itoa(e.Port)
	if len(e.AddrIPv4) > 0 {
		return net.JoinHostPort(e.AddrIPv4[0].String(), port), true
	}
	if len(e.AddrIPv6) > 0 {
		return net.JoinHostPort(e.AddrIPv6[0].String(), port), true
	}
	return "", false
}
