// Package discovery advertises and browses for MCSOTDMA node processes
// on the local network via mDNS/DNS-SD, for standing up a manual
// multi-node demo (SPEC_FULL.md §3: "the out-of-scope 'simulation
// harness' is still something an operator needs to stand up multiple
// node processes against each other"). Used only by cmd/mac-node; the
// MAC core itself never imports this package.
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
)

// ServiceType names the DNS-SD service type MCSOTDMA node processes
// advertise themselves under, mirroring the teacher's own
// "_kiss-tnc._tcp" naming for its KISS-over-TCP service
// (src/dns_sd.go).
const ServiceType = "_mcsotdma-sh._tcp"

// Peer is one discovered node.
type Peer struct {
	Name string
	Host string
	Port int
	Text map[string]string
}

// Announce advertises this node's id and SH control endpoint, returning
// a stop function that withdraws the announcement. Grounded on the
// teacher's dns_sd_announce (src/dns_sd.go): build a Config, create a
// Service and Responder, Add the service, then Respond in the
// background.
func Announce(ctx context.Context, nodeName string, port int, nodeID uint64) (stop func(), err error) {
	cfg := dnssd.Config{
		Name: nodeName,
		Type: ServiceType,
		Port: port,
		Text: map[string]string{"node_id": fmt.Sprintf("%d", nodeID)},
	}

	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: creating service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: creating responder: %w", err)
	}
	if _, err := rp.Add(sv); err != nil {
		return nil, fmt.Errorf("discovery: adding service: %w", err)
	}

	respondCtx, cancel := context.WithCancel(ctx)
	go func() {
		_ = rp.Respond(respondCtx)
	}()
	return cancel, nil
}

// Browse watches for other nodes' advertisements until ctx is canceled,
// invoking onPeer for each one seen.
func Browse(ctx context.Context, onPeer func(Peer)) error {
	addFn := func(e dnssd.BrowseEntry) {
		onPeer(Peer{Name: e.Name, Host: e.Host, Port: e.Port, Text: e.Text})
	}
	rmvFn := func(dnssd.BrowseEntry) {}
	return dnssd.LookupType(ctx, ServiceType, addFn, rmvFn)
}
