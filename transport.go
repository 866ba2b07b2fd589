package skywatcher

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// maxFrameSize is the largest frame the protocol allows, leading and
	// trailing characters included.
	maxFrameSize = 16

	// DefaultCommandTimeout is the per-attempt read timeout.
	DefaultCommandTimeout = 500 * time.Millisecond

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2

	retryDelay = 100 * time.Millisecond

	// dialTimeout bounds both the initial connect attempt and the overall
	// backoff budget in Open.
	dialTimeout = 3 * time.Second

	leadingChar  = ':'
	trailingChar = '\r'
)

// Transport frames commands and exchanges them with the mount over a
// serial (or, for bench testing, TCP/loopback) connection, applying the
// timeout/retry policy of SPEC_FULL.md §4.2. It owns the connection's
// open/close lifecycle directly -- SPEC_FULL.md §4 describes Frame
// Transport as "embedding a comm.RemoteDevice-style wrapper", so the
// open/backoff/flush/send/recv primitives live here rather than in a
// separate generic package. Transport performs no command-specific
// interpretation; that is Dispatcher's job (see dispatch.go).
type Transport struct {
	mu sync.Mutex

	addr     string
	isSerial bool
	serCfg   *serial.Config

	txTerm byte
	rxTerm byte

	conn io.ReadWriteCloser

	// CommandTimeout bounds each read attempt.
	CommandTimeout time.Duration

	// MaxRetries is the number of retries permitted after the first
	// failed attempt (so up to MaxRetries+1 total attempts).
	MaxRetries int

	// Log receives warnings (e.g. "succeeded after N retries") and, when
	// Debug is set, every frame written and read.
	Log   *log.Logger
	Debug bool
}

// NewSerialTransport builds a Transport bound to a real serial port.
// The port is not opened until the first exchange.
func NewSerialTransport(cfg *serial.Config) *Transport {
	return &Transport{
		addr:           cfg.Name,
		isSerial:       true,
		serCfg:         cfg,
		txTerm:         trailingChar,
		rxTerm:         trailingChar,
		CommandTimeout: DefaultCommandTimeout,
		MaxRetries:     DefaultMaxRetries,
		Log:            log.Default(),
	}
}

// NewTransport builds a Transport around an already-open connection
// (used directly by tests and by MockMount-backed transports).
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:           conn,
		txTerm:         trailingChar,
		rxTerm:         trailingChar,
		CommandTimeout: DefaultCommandTimeout,
		MaxRetries:     DefaultMaxRetries,
		Log:            log.Default(),
	}
}

// Open dials the mount connection if it is not already open, retrying
// the dial with exponential backoff. A "connection refused" error aborts
// immediately; anything else (e.g. a dial timeout) is retried until
// MaxElapsedTime is exhausted.
func (t *Transport) Open() error {
	if t.conn != nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	var refused error
	op := func() error {
		err := t.dial()
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "refused") {
			refused = err
			return nil // stop retrying
		}
		return err
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      dialTimeout,
		Clock:               backoff.SystemClock,
	})
	if refused != nil {
		return refused
	}
	if err != nil {
		return fmt.Errorf("skywatcher: connection timeout to %s: %v", t.addr, err)
	}
	return nil
}

// dial opens the underlying serial or TCP connection, per IsSerial.
func (t *Transport) dial() error {
	var conn io.ReadWriteCloser
	var err error
	if t.isSerial {
		if t.serCfg == nil {
			return fmt.Errorf("skywatcher: no serial.Config set for a serial transport")
		}
		conn, err = serial.OpenPort(t.serCfg)
	} else {
		var c net.Conn
		c, err = net.DialTimeout("tcp", t.addr, dialTimeout)
		if err == nil {
			c.SetDeadline(time.Now().Add(dialTimeout))
		}
		conn = c
	}
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

// Close tears down the underlying connection, if open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "closed") {
		return nil
	}
	return err
}

// flush discards any unread input and unwritten output buffered by the
// underlying connection, if it supports that. Serial ports commonly do;
// plain net.Conns and the mock loopback do not, and flush is then a no-op.
func (t *Transport) flush() error {
	if f, ok := t.conn.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// send writes a frame to the connection, appending the Tx terminator.
func (t *Transport) send(b []byte) error {
	if t.conn == nil {
		return fmt.Errorf("skywatcher: not connected")
	}
	if c, ok := t.conn.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(t.CommandTimeout))
	}
	b = append(b, t.txTerm)
	_, err := t.conn.Write(b)
	return err
}

// recv reads one reply up to the Rx terminator, stripping it.
func (t *Transport) recv() ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("skywatcher: not connected")
	}
	buf, err := bufio.NewReader(t.conn).ReadBytes(t.rxTerm)
	if err != nil {
		return nil, err
	}
	if bytes.HasSuffix(buf, []byte{t.rxTerm}) {
		idx := bytes.IndexByte(buf, t.rxTerm)
		return buf[:idx], nil
	}
	return buf, fmt.Errorf("skywatcher: terminator not found in reply")
}

// frame builds the body of a command, ":" CMD AXIS [ARG] -- the trailing
// '\r' is appended by send, not here.
func frame(cmd byte, axis Axis, arg string) ([]byte, error) {
	b := make([]byte, 0, maxFrameSize)
	b = append(b, leadingChar, cmd, axis.wireTag())
	b = append(b, arg...)
	if len(b)+1 > maxFrameSize { // +1 for the trailing char send will add
		return nil, fmt.Errorf("skywatcher: frame for command %q exceeds max size", cmd)
	}
	return b, nil
}

// exchangeOnce flushes stale input, writes one frame, and reads one
// reply up to the trailing '\r', bounded by CommandTimeout.
func (t *Transport) exchangeOnce(cmd byte, axis Axis, arg string) (string, error) {
	if err := t.Open(); err != nil {
		return "", err
	}
	f, err := frame(cmd, axis, arg)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.flush(); err != nil && t.Debug {
		t.Log.Printf("skywatcher: flush before write failed (continuing): %v", err)
	}
	if t.Debug {
		t.Log.Printf("skywatcher: > %s", f)
	}
	if err := t.send(f); err != nil {
		return "", err
	}

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.recv()
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if t.Debug {
			t.Log.Printf("skywatcher: < %s", r.resp)
		}
		return string(r.resp), nil
	case <-time.After(t.CommandTimeout):
		return "", fmt.Errorf("skywatcher: timed out waiting for reply to %q within %s", cmd, t.CommandTimeout)
	}
}

// Exchange performs one command/reply round trip, retrying on failure
// per the policy in SPEC_FULL.md §4.2. noRetry suppresses the retry loop
// entirely (used for GetFeatures, which some mounts legitimately reject).
func (t *Transport) Exchange(cmd byte, axis Axis, arg string, noRetry bool) (string, error) {
	maxAttempts := t.MaxRetries + 1
	if noRetry {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		reply, err := t.exchangeOnce(cmd, axis, arg)
		if err == nil {
			if attempt > 0 {
				t.Log.Printf("skywatcher: command %q axis %s succeeded after %d retries (%s delay)",
					cmd, axis, attempt, time.Duration(attempt)*retryDelay)
			}
			return reply, nil
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			time.Sleep(retryDelay)
		}
	}
	return "", &DisconnectError{Op: fmt.Sprintf("exchange %q axis %s", cmd, axis), Err: lastErr}
}
