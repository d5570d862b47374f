// Demo PHY adapters: concrete implementations of the Radio contract
// above, so the MAC core is runnable end to end against real hardware.
// internal/mac never imports this file's types directly — it only ever
// depends on the Radio interface (spec §1: "PHY hand-off is an external
// collaborator").
package phy

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/jochenvg/go-udev"
	"github.com/warthog618/go-gpiocdev"
	"github.com/xylo04/goHamlib"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// GPIOPTTRadio keys a transmitter through a GPIO line the way the
// teacher's ptt_set_real does for its GPIO PTT method (src/ptt.go), and
// tunes a real radio's receive frequency through Hamlib's rig_set_freq,
// mirroring the teacher's CAT-control PTT/tuning path in the same file.
type GPIOPTTRadio struct {
	mu sync.Mutex

	pttLine *gpiocdev.Line
	rig     *goHamlib.Rig
	rigVFO  goHamlib.Vfo

	datarateBitsPerSlot int
	receive             ReceiveFunc
}

// NewGPIOPTTRadio opens the named GPIO chip/line for PTT and the named
// Hamlib rig model for receiver tuning.
func NewGPIOPTTRadio(gpioChip string, gpioLine int, hamlibModel int, hamlibDevice string, datarateBitsPerSlot int) (*GPIOPTTRadio, error) {
	line, err := gpiocdev.RequestLine(gpioChip, gpioLine, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("phy: requesting gpio line: %w", err)
	}

	rig := goHamlib.NewRig(hamlibModel)
	rig.SetConf("rig_pathname", hamlibDevice)
	if err := rig.Open(); err != nil {
		_ = line.Close()
		return nil, fmt.Errorf("phy: opening hamlib rig: %w", err)
	}

	return &GPIOPTTRadio{
		pttLine: line, rig: rig, rigVFO: goHamlib.RIG_VFO_CURR,
		datarateBitsPerSlot: datarateBitsPerSlot,
	}, nil
}

// SetReceiveFunc registers the callback invoked when a frame arrives
// over the air; cmd/mac-node wires this to mac.Core.ReceiveFromLower.
func (r *GPIOPTTRadio) SetReceiveFunc(fn ReceiveFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receive = fn
}

// PassToLower keys the transmitter for the duration of the slot and
// releases it again. Actual RF modulation of p's bytes is the teacher's
// own DSP/AFSK code and stays out of scope here (spec §1); this adapter
// only proves out the PTT key/unkey lifecycle against real hardware.
func (r *GPIOPTTRadio) PassToLower(p wire.Packet, centerFreqKHz uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.keyTransmitter(true); err != nil {
		return fmt.Errorf("phy: keying transmitter: %w", err)
	}
	defer r.keyTransmitter(false)
	_ = len(p.Records) // the frame itself is handed to the (out-of-scope) modem stage
	return nil
}

func (r *GPIOPTTRadio) TuneReceiver(centerFreqKHz uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rig.SetFreq(r.rigVFO, float64(centerFreqKHz)*1000)
}

func (r *GPIOPTTRadio) IsTransmitterIdle(int32, int) bool {
	return true // a single GPIO PTT line has no independent "busy" signal to poll
}

func (r *GPIOPTTRadio) IsAnyReceiverIdle(int32, int) bool { return true }

func (r *GPIOPTTRadio) CurrentDatarateBitsPerSlot() int { return r.datarateBitsPerSlot }

func (r *GPIOPTTRadio) keyTransmitter(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return r.pttLine.SetValue(v)
}

// Close releases the GPIO line and closes the Hamlib rig connection.
func (r *GPIOPTTRadio) Close() error {
	err1 := r.pttLine.Close()
	err2 := r.rig.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// SoundcardLoopbackRadio opens a soundcard stream purely to exercise the
// same open/configure/close device lifecycle the teacher uses for its
// audio devices (src/audio.go, src/audio_stats.go). Actual AFSK
// modulation is the teacher's DSP code and stays out of scope (spec §1);
// this adapter loops silence so the demo has a runnable PHY that does
// not require real transmit hardware.
type SoundcardLoopbackRadio struct {
	mu                  sync.Mutex
	stream              *portaudio.Stream
	datarateBitsPerSlot int
}

// NewSoundcardLoopbackRadio opens the default input/output devices at
// sampleRate, following the teacher's own reliance on PortAudio's
// default-device selection when no ADEVICE override is configured.
func NewSoundcardLoopbackRadio(sampleRate float64, framesPerBuffer int, datarateBitsPerSlot int) (*SoundcardLoopbackRadio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("phy: initializing portaudio: %w", err)
	}
	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 1, sampleRate, framesPerBuffer, &buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("phy: opening default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("phy: starting stream: %w", err)
	}
	return &SoundcardLoopbackRadio{stream: stream, datarateBitsPerSlot: datarateBitsPerSlot}, nil
}

// PassToLower is a no-op beyond proving the device is open: the
// soundcard stream carries silence, never the teacher's AFSK-modulated
// audio (out of scope, spec §1).
func (s *SoundcardLoopbackRadio) PassToLower(wire.Packet, uint64) error { return nil }

func (s *SoundcardLoopbackRadio) TuneReceiver(uint64) error { return nil }

func (s *SoundcardLoopbackRadio) IsTransmitterIdle(int32, int) bool { return true }

func (s *SoundcardLoopbackRadio) IsAnyReceiverIdle(int32, int) bool { return true }

func (s *SoundcardLoopbackRadio) CurrentDatarateBitsPerSlot() int { return s.datarateBitsPerSlot }

// Close stops the stream and tears down PortAudio, mirroring the
// teacher's device-close sequence.
func (s *SoundcardLoopbackRadio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err1 := s.stream.Stop()
	err2 := s.stream.Close()
	err3 := portaudio.Terminate()
	for _, e := range []error{err1, err2, err3} {
		if e != nil {
			return e
		}
	}
	return nil
}

// USBWatcher re-arms a radio adapter on USB hotplug of the underlying
// device, mirroring the teacher's CM108 USB device-attach handling
// (src/cm108.go).
type USBWatcher struct {
	u *udev.Udev
}

// NewUSBWatcher creates a watcher for uevents on the udev "tty"
// subsystem, the class the teacher's USB TNC/CM108 hardware enumerates
// under.
func NewUSBWatcher() *USBWatcher {
	return &USBWatcher{u: udev.Udev{}}
}

// Watch invokes onChange for every device-change event on the tty
// subsystem until ctx is canceled.
func (w *USBWatcher) Watch(ctx context.Context, onChange func(devNode string)) error {
	mon := w.u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem("tty"); err != nil {
		return fmt.Errorf("phy: filtering udev monitor: %w", err)
	}
	devCh, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		return fmt.Errorf("phy: starting udev monitor: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case d := <-devCh:
			onChange(d.Devnode())
		}
	}
}
