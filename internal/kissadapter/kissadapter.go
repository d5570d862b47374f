// Package kissadapter exposes the MAC core's upward interface (spec §6:
// notify_outgoing, request_segment, pass_to_upper) over a KISS-derived
// framing on a pseudo-terminal, so any standard packet-radio client
// application can attach to cmd/mac-tnc the way it would attach to the
// teacher's own KISS pseudo-terminal (src/kiss.go, src/kiss_frame.go).
package kissadapter

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/creack/pty"
	"github.com/pkg/term"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// Framing delimiters, identical to the teacher's KISS constants
// (src/kiss_frame.go).
const (
	fend  = 0xC0
	fesc  = 0xDB
	tfend = 0xDC
	tfesc = 0xDD
)

// Encode wraps a payload in FEND-delimited, escaped KISS framing (spec
// of the teacher's kiss_encapsulate).
func Encode(payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(fend)
	for _, b := range payload {
		switch b {
		case fend:
			buf.WriteByte(fesc)
			buf.WriteByte(tfend)
		case fesc:
			buf.WriteByte(fesc)
			buf.WriteByte(tfesc)
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(fend)
	return buf.Bytes()
}

// Decode reverses Encode, given one complete FEND-to-FEND frame
// (leading/trailing FEND optional on the way in, mirroring the
// teacher's kiss_unwrap tolerance for both).
func Decode(frame []byte) ([]byte, error) {
	if len(frame) > 0 && frame[len(frame)-1] == fend {
		frame = frame[:len(frame)-1]
	}
	if len(frame) > 0 && frame[0] == fend {
		frame = frame[1:]
	}
	var buf bytes.Buffer
	for i := 0; i < len(frame); i++ {
		b := frame[i]
		if b != fesc {
			buf.WriteByte(b)
			continue
		}
		i++
		if i >= len(frame) {
			return nil, fmt.Errorf("kissadapter: frame ends mid-escape")
		}
		switch frame[i] {
		case tfend:
			buf.WriteByte(fend)
		case tfesc:
			buf.WriteByte(fesc)
		default:
			return nil, fmt.Errorf("kissadapter: invalid escape byte 0x%02x", frame[i])
		}
	}
	return buf.Bytes(), nil
}

// PTY pairs a pseudo-terminal's master/slave ends with a framer reading
// and writing wire.Packet payloads across it, the KISS-over-pty
// equivalent of the teacher's kisspt_open_pt (src/kiss.go).
type PTY struct {
	master *os.File
	slave  *os.File
	reader *bufio.Reader
}

// Open creates a new pty pair. SlaveName is the path a client
// application should open (mirroring the teacher logging "KISS TNC is
// available on /dev/pts/N").
func Open() (*PTY, error) {
	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("kissadapter: opening pty: %w", err)
	}
	return &PTY{master: ptmx, slave: pts, reader: bufio.NewReader(ptmx)}, nil
}

// SlaveName returns the path the attached application should open.
func (p *PTY) SlaveName() string { return p.slave.Name() }

// Close releases both ends of the pty.
func (p *PTY) Close() error {
	err1 := p.master.Close()
	err2 := p.slave.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// WritePacket frames p's unicast payload bytes and writes it to the
// attached client.
func (pt *PTY) WritePacket(p wire.Packet) error {
	var payload []byte
	for _, rec := range p.Records {
		if rec.Kind == wire.KindPPUnicast {
			payload = rec.Payload
			break
		}
	}
	_, err := pt.master.Write(Encode(payload))
	return err
}

// ReadFrame blocks for one complete FEND-delimited frame from the
// attached client and returns its decoded payload.
func (pt *PTY) ReadFrame() ([]byte, error) {
	raw, err := pt.reader.ReadBytes(fend)
	if err != nil {
		return nil, err
	}
	// A lone leading FEND with nothing else yet is common (client
	// resynchronizing); read the real frame body that follows it.
	if len(raw) == 1 {
		raw, err = pt.reader.ReadBytes(fend)
		if err != nil {
			return nil, err
		}
	}
	return Decode(raw)
}

// OpenRawSerial puts devicename into raw mode for a client that attaches
// over a real serial link instead of a pty, mirroring the teacher's
// serial_port_open (src/serial_port.go).
func OpenRawSerial(devicename string) (*term.Term, error) {
	t, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("kissadapter: opening %s: %w", devicename, err)
	}
	return t, nil
}
