// Command mac-tnc runs one MCSOTDMA node with its upward interface
// exposed as a KISS pseudo-terminal, so any ordinary packet-radio
// application (APRS clients, AX.25 stacks) can attach to a single PP
// peer the way it would attach to a hardware TNC (SPEC_FULL.md §3:
// kissadapter). Unlike cmd/mac-node, this entry point wires a real
// upper.Layer instead of upper.NopLayer.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/channel"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/config"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/dutycycle"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/kissadapter"
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
	fs := pflag.NewFlagSet("mac-tnc", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file (defaults built in if empty)")
	nodeID := fs.Uint64("node-id", 1, "this node's id")
	peerID := fs.Uint64("peer-id", 2, "the single PP peer this TNC exchanges data with")
	shFreqKHz := fs.Uint64("sh-freq-khz", 5000, "shared channel center frequency in kHz")
	ppFreqKHz := fs.Uint64("pp-freq-khz", 5025, "point-to-point channel center frequency in kHz")
	verbose := fs.Bool("verbose", false, "enable debug tracing")
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mac-tnc:", err)
		os.Exit(1)
	}

	level := log.WarnLevel
	if *verbose {
		level = log.DebugLevel
	}
	tracer := trace.New(fmt.Sprintf("%d", *nodeID), os.Stderr, level)

	self := wire.NodeID(*nodeID)
	peer := wire.NodeID(*peerID)
	horizon := slot.Horizon(cfg.PlanningHorizon)

	res := reservation.NewManager(horizon, 1, tracer)
	shID := res.AddSHChannel(channel.Channel{Kind: channel.KindSH, CenterFreqKHz: *shFreqKHz, BandwidthKHz: 25})
	res.AddPPChannel(channel.Channel{Kind: channel.KindPP, CenterFreqKHz: *ppFreqKHz, BandwidthKHz: 25})

	duty := dutycycle.New(cfg.DutyCyclePeriod, cfg.MaxDutyCycle, cfg.MinSupportedPPLinks, strategyFromConfig(cfg))
	neighbors := neighbor.New(int64(cfg.DutyCyclePeriod))
	st := stats.New()

	pt, err := kissadapter.Open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mac-tnc:", err)
		os.Exit(1)
	}
	defer pt.Close()
	fmt.Printf("mac-tnc: KISS TNC for peer %d available on %s\n", peer, pt.SlaveName())

	radio := &mockRadio{datarate: 1200}
	upperLayer := newKissUpper(pt, peer, radio.CurrentDatarateBitsPerSlot)

	pp := pplink.New(cfg, self, res, shID, duty, nil, upperLayer, radio.CurrentDatarateBitsPerSlot, st, tracer)
	third := thirdparty.New(cfg, res, st, tracer)
	rng := rand.New(rand.NewSource(int64(*nodeID)))
	sh := shlink.New(cfg, self, res, shID, duty, neighbors, pp, third, st, tracer, rng)
	pp.SetSHLinkHandler(sh)

	core := mac.New(cfg, self, res, duty, neighbors, sh, pp, third, nil, upperLayer, radio, nil, st, tracer)
	radio.receive = core.ReceiveFromLower

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go upperLayer.pumpFrames(ctx, core, tracer)

	// A fresh attach has nothing queued yet; tell pplink about the peer
	// up front so it starts link establishment instead of waiting for
	// the first frame to arrive from the pty.
	core.NotifyOutgoing(peer, 0)

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
				tracer.Warnf("mac-tnc", "execute: %v", err)
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

// kissUpper implements upper.Layer against a single KISS pseudo-terminal
// and a single PP peer: frames read from the pty queue up as outgoing
// segments, and received PP packets are written back out to the pty.
type kissUpper struct {
	pt   *kissadapter.PTY
	peer wire.NodeID

	datarate func() int

	mu    sync.Mutex
	queue [][]byte
}

func newKissUpper(pt *kissadapter.PTY, peer wire.NodeID, datarate func() int) *kissUpper {
	return &kissUpper{pt: pt, peer: peer, datarate: datarate}
}

// pumpFrames reads decoded KISS frames from the pty until ctx is
// canceled, queuing each as outgoing data and notifying core so pplink
// establishes or renews the link.
func (k *kissUpper) pumpFrames(ctx context.Context, core *mac.Core, tracer *trace.Tracer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := k.pt.ReadFrame()
		if err != nil {
			tracer.Warnf("mac-tnc", "reading kiss frame: %v", err)
			return
		}
		if len(frame) == 0 {
			continue
		}
		k.mu.Lock()
		k.queue = append(k.queue, frame)
		k.mu.Unlock()
		core.NotifyOutgoing(k.peer, len(frame)*8)
	}
}

func (k *kissUpper) NotifyOutgoing(wire.NodeID, int) {}

// RequestSegment pops the oldest queued frame that fits within numBits,
// wrapping it in a record the PP link manager attaches its own header
// to (internal/pplink.OnTransmissionReservation appends the PP header
// as a separate record onto whatever RequestSegment returns).
func (k *kissUpper) RequestSegment(peer wire.NodeID, numBits int) wire.Packet {
	if peer != k.peer {
		return wire.Packet{}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.queue) == 0 {
		return wire.Packet{}
	}
	maxBytes := numBits / 8
	frame := k.queue[0]
	if maxBytes > 0 && len(frame) > maxBytes {
		return wire.Packet{}
	}
	k.queue = k.queue[1:]
	return wire.Packet{Records: []wire.Record{{Kind: wire.KindPPUnicast, Payload: frame}}}
}

func (k *kissUpper) IsThereMoreData(peer wire.NodeID) bool {
	if peer != k.peer {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.queue) > 0
}

func (k *kissUpper) InjectIntoUpper(p wire.Packet) {
	_ = k.pt.WritePacket(p)
}

func (k *kissUpper) PassToUpper(p wire.Packet) {
	_ = k.pt.WritePacket(p)
}

var _ upper.Layer = (*kissUpper)(nil)

// mockRadio is the same loopback-free stand-in used by cmd/mac-node; a
// real deployment substitutes a phy.Radio from internal/phy's adapters.
type mockRadio struct {
	datarate int
	receive  func(p wire.Packet, centerFreqKHz uint64)
}

func (r *mockRadio) PassToLower(wire.Packet, uint64) error { return nil }
func (r *mockRadio) TuneReceiver(uint64) error             { return nil }
func (r *mockRadio) IsTransmitterIdle(int32, int) bool     { return true }
func (r *mockRadio) IsAnyReceiverIdle(int32, int) bool     { return true }
func (r *mockRadio) CurrentDatarateBitsPerSlot() int       { return r.datarate }

var _ phy.Radio = (*mockRadio)(nil)
