package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/rf.twin/internal/serialmux"
)

// maxLineBytes bounds a single receiver reply.
const maxLineBytes = 64 * 1024

var errMalformedReply = errors.New("malformed receiver reply")

// Request is one line sent to a receiver.
type Request struct {
	Cmd        string     `json:"cmd"`
	ID         string     `json:"id"`
	TargetID   string     `json:"target_id,omitempty"`
	SignalType SignalType `json:"signal_type,omitempty"`
}

// Response is one line read back. Exactly one of RSSI, Targets or Error is
// expected.
type Response struct {
	ID      string   `json:"id"`
	RSSI    *float64 `json:"rssi,omitempty"`
	Targets []string `json:"targets,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Transport carries requests to a single receiver.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
	Close() error
}

func decodeReply(line []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", errMalformedReply, err)
	}
	return resp, nil
}

// TCPTransport keeps one connection to a receiver and redials after any
// failure. Requests on one transport are serialized.
type TCPTransport struct {
	addr   string
	dialer net.Dialer

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{addr: addr, dialer: net.Dialer{Timeout: 5 * time.Second}}
}

func (t *TCPTransport) Addr() string { return t.addr }

func (t *TCPTransport) Do(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return Response{}, fmt.Errorf("dial %s: %w", t.addr, err)
		}
		t.conn = conn
		t.reader = bufio.NewReaderSize(conn, 4096)
	}

	resp, err := t.exchange(ctx, append(payload, '\n'), req.ID)
	if err != nil {
		t.reset()
		return Response{}, fmt.Errorf("receiver %s: %w", t.addr, err)
	}
	return resp, nil
}

// exchange writes one request and reads lines until the matching reply.
// Replies to earlier, abandoned requests are skipped.
func (t *TCPTransport) exchange(ctx context.Context, payload []byte, id string) (Response, error) {
	conn := t.conn
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Time{})
	}
	// Cancellation without a deadline still unblocks the read.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return Response{}, t.ctxErr(ctx, err)
	}
	for {
		line, err := t.readLine()
		if err != nil {
			return Response{}, t.ctxErr(ctx, err)
		}
		resp, err := decodeReply(line)
		if err != nil {
			return Response{}, err
		}
		if resp.ID == id || resp.ID == "" {
			return resp, nil
		}
	}
}

func (t *TCPTransport) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := t.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineBytes {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", errMalformedReply, maxLineBytes)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return nil, err
		}
		return line, nil
	}
}

// ctxErr prefers the context's error when the deadline or cancellation
// caused a network failure.
func (t *TCPTransport) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w (%v)", context.DeadlineExceeded, err)
	}
	return err
}

func (t *TCPTransport) reset() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
		t.reader = nil
	}
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	return nil
}

// SerialTransport speaks the same protocol over a serial receiver.
type SerialTransport struct {
	mux    serialmux.Mux
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSerialTransport uses a mux whose Monitor the caller runs and closes.
func NewSerialTransport(mux serialmux.Mux) *SerialTransport {
	return &SerialTransport{mux: mux}
}

// OpenSerialTransport opens path and runs its monitor until Close.
func OpenSerialTransport(path string, opts serialmux.PortOptions) (*SerialTransport, error) {
	mux, err := serialmux.Open(path, opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &SerialTransport{mux: mux, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		mux.Monitor(ctx)
	}()
	return t, nil
}

// Mux exposes the underlying mux, for admin routes.
func (t *SerialTransport) Mux() serialmux.Mux { return t.mux }

func (t *SerialTransport) Do(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	var decodeErr error
	_, err = t.mux.Request(ctx, string(payload), func(line string) bool {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			return false
		}
		r, err := decodeReply([]byte(line))
		if err != nil {
			decodeErr = err
			return true
		}
		if r.ID != req.ID {
			return false
		}
		resp = r
		return true
	})
	if err != nil {
		return Response{}, err
	}
	if decodeErr != nil {
		return Response{}, decodeErr
	}
	return resp, nil
}

func (t *SerialTransport) Close() error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	err := t.mux.Close()
	<-t.done
	return err
}

// OpenTransport picks a transport from an address. "serial:/dev/ttyUSB0"
// selects a serial receiver; anything else is a TCP host:port.
func OpenTransport(addr string, serialOpts serialmux.PortOptions) (Transport, error) {
	if path, ok := strings.CutPrefix(addr, "serial:"); ok {
		return OpenSerialTransport(strings.TrimPrefix(path, "//"), serialOpts)
	}
	addr = strings.TrimPrefix(addr, "tcp://")
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("receiver address %q: %w", addr, err)
	}
	return NewTCPTransport(addr), nil
}
