// Package motorlink speaks the packet protocol of the wheel motor controller.
// Two board dialects share the frame layout and differ in their check and in
// whether writes are acknowledged; the Codec learns which one it is talking
// to from the version query at reset.
package motorlink

import (
	"bytes"
	"fmt"
	"regexp"
	"time"

	"github.com/banshee-data/body.control/internal/monitoring"
)

// Dialect is the state of dialect detection.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectProbing
	DialectClassic
	DialectModern
)

func (d Dialect) String() string {
	switch d {
	case DialectProbing:
		return "probing"
	case DialectClassic:
		return "classic"
	case DialectModern:
		return "modern"
	}
	return "unknown"
}

// DefaultAddress is the controller address used by the body.
const DefaultAddress byte = 0x80

// LinkDownThreshold is the number of consecutive failed receives after which
// the link is reported down.
const LinkDownThreshold = 3

const ackByte = 0xFF

// maxVersionLen bounds the version string read.
const maxVersionLen = 48

// Transport is the byte link the codec drives; serialport.Transport
// implements it.
type Transport interface {
	Send(b []byte) error
	RecvExact(n int, timeout time.Duration) ([]byte, error)
	RecvAny() ([]byte, error)
	Flush() error
}

// Codec frames commands for one controller address. It is not safe for
// concurrent use; the cycle's primary goroutine owns it.
type Codec struct {
	tr      Transport
	addr    byte
	timeout time.Duration

	dialect  Dialect
	frame    framing
	pending  int
	failures int
	errors   uint64
	polarity int
	version  string
}

// New returns a codec in DialectUnknown. Query and Write fail until Version
// succeeds.
func New(tr Transport, addr byte) *Codec {
	return &Codec{tr: tr, addr: 0x80 | addr&0x07, timeout: 30 * time.Millisecond, polarity: 1}
}

// SetReplyTimeout changes how long a reply may take.
func (c *Codec) SetReplyTimeout(d time.Duration) { c.timeout = d }

// Dialect returns the detected dialect.
func (c *Codec) Dialect() Dialect { return c.dialect }

// Polarity is +1 for boards wired left=M1, -1 for revisions that cross them.
func (c *Codec) Polarity() int { return c.polarity }

// VersionString returns the last version string read.
func (c *Codec) VersionString() string { return c.version }

// Failures is the count of consecutive failed receives.
func (c *Codec) Failures() int { return c.failures }

// Errors is the lifetime count of failed receives.
func (c *Codec) Errors() uint64 { return c.errors }

// LinkDown reports whether consecutive failures reached LinkDownThreshold.
func (c *Codec) LinkDown() bool { return c.failures >= LinkDownThreshold }

// Reset clears pending acknowledgements and flushes unread input. The
// detected dialect is kept.
func (c *Codec) Reset() error {
	c.pending = 0
	if err := c.tr.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if junk, err := c.tr.RecvAny(); err == nil && len(junk) > 0 {
		tracef("discarded %d stale bytes", len(junk))
	}
	return nil
}

var modelPattern = regexp.MustCompile(`(\d+)x(\d+)`)

// Version reads the controller version string and infers the dialect and
// wheel polarity from it. A leading 'U' marks the modern dialect; 15 A and
// 30 A boards use standard polarity.
func (c *Codec) Version() (string, error) {
	c.dialect = DialectProbing
	c.frame = framing{}
	c.pending = 0
	if err := c.tr.Flush(); err != nil {
		c.dialect = DialectUnknown
		return "", c.fail(fmt.Errorf("flush: %w", err))
	}

	req := []byte{c.addr, CmdReadVersion}
	if err := c.tr.Send(req); err != nil {
		c.dialect = DialectUnknown
		return "", c.fail(err)
	}

	var text []byte
	for {
		b, err := c.tr.RecvExact(1, c.timeout)
		if err != nil {
			c.dialect = DialectUnknown
			return "", c.fail(fmt.Errorf("version string: %w", err))
		}
		text = append(text, b[0])
		if b[0] == 0 {
			break
		}
		if len(text) > maxVersionLen {
			c.dialect = DialectUnknown
			return "", c.fail(fmt.Errorf("version string unterminated: %w", monitoring.ErrCommCheck))
		}
	}

	dialect := DialectClassic
	if len(text) > 1 && text[0] == 'U' {
		dialect = DialectModern
	}
	fr, _ := framingFor(dialect)
	got, err := c.tr.RecvExact(fr.checkLen, c.timeout)
	if err != nil {
		c.dialect = DialectUnknown
		return "", c.fail(fmt.Errorf("version check: %w", err))
	}
	if want := fr.check(append(req, text...)); !bytes.Equal(got, want) {
		c.dialect = DialectUnknown
		return "", c.fail(fmt.Errorf("version: %w", monitoring.ErrCommCheck))
	}

	c.ok()
	c.dialect = dialect
	c.frame = fr
	c.version = string(text[:len(text)-1])
	c.polarity = -1
	if m := modelPattern.FindStringSubmatch(c.version); m != nil && (m[2] == "15" || m[2] == "30") {
		c.polarity = 1
	}
	diagf("controller %q: %s dialect, polarity %+d", c.version, c.dialect, c.polarity)
	return c.version, nil
}

// Query sends cmd and returns the n payload bytes of its verified reply.
func (c *Codec) Query(cmd byte, n int) ([]byte, error) {
	if c.frame.check == nil {
		return nil, fmt.Errorf("query 0x%02x: dialect %s: %w", cmd, c.dialect, monitoring.ErrLinkDown)
	}
	if err := c.stripAcks(); err != nil {
		return nil, c.fail(err)
	}
	req := []byte{c.addr, cmd}
	if err := c.tr.Send(req); err != nil {
		return nil, c.fail(err)
	}
	reply, err := c.tr.RecvExact(n+c.frame.checkLen, c.timeout)
	if err != nil {
		return nil, c.fail(fmt.Errorf("query 0x%02x: %w", cmd, err))
	}
	payload, got := reply[:n], reply[n:]
	if want := c.frame.check(append(req, payload...)); !bytes.Equal(got, want) {
		_ = c.tr.Flush()
		return nil, c.fail(fmt.Errorf("query 0x%02x: %w", cmd, monitoring.ErrCommCheck))
	}
	tracef("query 0x%02x -> % x", cmd, payload)
	c.ok()
	return payload, nil
}

// Write sends cmd with payload. In the modern dialect the controller answers
// with 0xFF, which is collected before the next query.
func (c *Codec) Write(cmd byte, payload []byte) error {
	if c.frame.check == nil {
		return fmt.Errorf("write 0x%02x: dialect %s: %w", cmd, c.dialect, monitoring.ErrLinkDown)
	}
	pkt := append([]byte{c.addr, cmd}, payload...)
	pkt = append(pkt, c.frame.check(pkt)...)
	if err := c.tr.Send(pkt); err != nil {
		return fmt.Errorf("write 0x%02x: %w", cmd, err)
	}
	if c.frame.ackExpected {
		c.pending++
	}
	tracef("write % x", pkt)
	return nil
}

func (c *Codec) stripAcks() error {
	if c.pending == 0 {
		return nil
	}
	n := c.pending
	c.pending = 0
	acks, err := c.tr.RecvExact(n, c.timeout)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	for _, b := range acks {
		if b != ackByte {
			_ = c.tr.Flush()
			return fmt.Errorf("ack 0x%02x: %w", b, monitoring.ErrCommCheck)
		}
	}
	return nil
}

func (c *Codec) ok() { c.failures = 0 }

func (c *Codec) fail(err error) error {
	c.failures++
	c.errors++
	if c.failures >= LinkDownThreshold {
		if c.failures == LinkDownThreshold {
			opsf("link down after %d consecutive failures: %v", c.failures, err)
		}
		return fmt.Errorf("%w: %w", monitoring.ErrLinkDown, err)
	}
	return err
}
