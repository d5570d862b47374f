// Command mac-node runs one MCSOTDMA node against a mock PHY, for local
// experimentation (there is no option to select a real phy.Radio
// implementation), and advertises itself on the local network via mDNS so
// other mac-node processes can be found (SPEC_FULL.md §3/§5).
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/beacon"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/channel"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/config"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/discovery"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/dutycycle"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/mac"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/neighbor"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/phy"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/pplink"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/reservation"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/shlink"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/stats"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/thirdparty"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/trace"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/upper"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

func main() {
	fs := pflag.NewFlagSet("mac-node", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file (defaults built in if empty)")
	nodeID := fs.Uint64("node-id", 1, "this node's id")
	numPPChannels := fs.Int("pp-channels", 4, "number of point-to-point channels to register")
	shFreqKHz := fs.Uint64("sh-freq-khz", 5000, "shared channel center frequency in kHz")
	verbose := fs.Bool("verbose", false, "enable debug tracing")
	discoveryName := fs.String("discovery-name", "", "mDNS service name (defaults to node-<id>)")
	discoveryPort := fs.Int("discovery-port", 4433, "port advertised for peer discovery")
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mac-node:", err)
		os.Exit(1)
	}

	level := log.WarnLevel
	if *verbose {
		level = log.DebugLevel
	}
	tracer := trace.New(fmt.Sprintf("%d", *nodeID), os.Stderr, level)

	self := wire.NodeID(*nodeID)
	horizon := slot.Horizon(cfg.PlanningHorizon)

	res := reservation.NewManager(horizon, 2, tracer)
	shID := res.AddSHChannel(channel.Channel{Kind: channel.KindSH, CenterFreqKHz: *shFreqKHz, BandwidthKHz: 25})
	for i := 0; i < *numPPChannels; i++ {
		res.AddPPChannel(channel.Channel{
			Kind:          channel.KindPP,
			CenterFreqKHz: *shFreqKHz + uint64(25*(i+1)),
			BandwidthKHz:  25,
		})
	}

	duty := dutycycle.New(cfg.DutyCyclePeriod, cfg.MaxDutyCycle, cfg.MinSupportedPPLinks, strategyFromConfig(cfg))
	neighbors := neighbor.New(int64(cfg.DutyCyclePeriod))
	st := stats.New()

	upperLayer := upper.NopLayer{}
	radio := &mockRadio{datarate: 1200}

	// pp and sh each need a handler interface onto the other (C5<->C6);
	// construct pp with a nil SH handler and patch it in once sh exists.
	pp := pplink.New(cfg, self, res, shID, duty, nil, upperLayer, radio.CurrentDatarateBitsPerSlot, st, tracer)
	third := thirdparty.New(cfg, res, st, tracer)
	rng := rand.New(rand.NewSource(int64(*nodeID)))
	sh := shlink.New(cfg, self, res, shID, duty, neighbors, pp, third, st, tracer, rng)
	pp.SetSHLinkHandler(sh)

	var beaconMod *beacon.Module
	if cfg.BeaconEnabled {
		beaconMod = beacon.New(cfg, self, res, shID, neighbors, tracer)
	}

	core := mac.New(cfg, self, res, duty, neighbors, sh, pp, third, beaconMod, upperLayer, radio, nil, st, tracer)
	radio.receive = core.ReceiveFromLower

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	name := *discoveryName
	if name == "" {
		name = fmt.Sprintf("node-%d", *nodeID)
	}
	stopAnnounce, err := discovery.Announce(ctx, name, *discoveryPort, *nodeID)
	if err != nil {
		tracer.Warnf("mac-node", "discovery announce failed: %v", err)
	} else {
		defer stopAnnounce()
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			snap := core.Stats()
			fmt.Printf("shutting down: %+v\n", snap)
			return
		case <-ticker.C:
			core.Update(1)
			if err := core.Execute(); err != nil {
				tracer.Warnf("mac-node", "execute: %v", err)
			}
			core.OnSlotEnd(false)
		}
	}
}

func strategyFromConfig(cfg config.Config) dutycycle.Strategy {
	if cfg.DutyCycleStrategy == config.DutyCycleDynamic {
		return dutycycle.Dynamic
	}
	return dutycycle.Static
}

// mockRadio is a loopback-free stand-in PHY for local experimentation:
// it always reports itself idle and never actually transmits, letting a
// single mac-node process run its own slot loop without real hardware.
type mockRadio struct {
	datarate int
	receive  func(p wire.Packet, centerFreqKHz uint64)
}

func (r *mockRadio) PassToLower(wire.Packet, uint64) error { return nil }
func (r *mockRadio) TuneReceiver(uint64) error              { return nil }
func (r *mockRadio) IsTransmitterIdle(int32, int) bool      { return true }
func (r *mockRadio) IsAnyReceiverIdle(int32, int) bool      { return true }
func (r *mockRadio) CurrentDatarateBitsPerSlot() int        { return r.datarate }

var _ phy.Radio = (*mockRadio)(nil)
