package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rf.twin/internal/serialmux"
)

const (
	hangUp = "<close>"
	stall  = "<stall>"
)

// receiverServer is a loopback line-JSON receiver. reply returns the raw
// line to send back, hangUp to drop the connection, or stall to say
// nothing.
type receiverServer struct {
	ln    net.Listener
	reply func(Request) string

	mu   sync.Mutex
	seen []Request
}

func newReceiverServer(t *testing.T, reply func(Request) string) *receiverServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &receiverServer{ln: ln, reply: reply}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *receiverServer) addr() string { return s.ln.Addr().String() }

func (s *receiverServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			scan := bufio.NewScanner(conn)
			for scan.Scan() {
				var req Request
				if err := json.Unmarshal(scan.Bytes(), &req); err != nil {
					return
				}
				s.mu.Lock()
				s.seen = append(s.seen, req)
				s.mu.Unlock()
				switch out := s.reply(req); out {
				case hangUp:
					return
				case stall:
				default:
					fmt.Fprintln(conn, out)
				}
			}
		}()
	}
}

func (s *receiverServer) requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.seen...)
}

func rssiReply(v float64) func(Request) string {
	return func(r Request) string {
		switch r.Cmd {
		case "get_rssi":
			return fmt.Sprintf(`{"id":%q,"rssi":%v}`, r.ID, v)
		case "scan_targets":
			return fmt.Sprintf(`{"id":%q,"targets":["aa:bb","cc:dd"]}`, r.ID)
		}
		return `{"error":"unknown command"}`
	}
}

func hardware(t *testing.T, servers ...*receiverServer) *Hardware {
	t.Helper()
	var trs []Transport
	for _, s := range servers {
		trs = append(trs, NewTCPTransport(s.addr()))
	}
	h, err := NewHardware(trs, HardwareOptions{SignalType: Bluetooth})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func timeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestHardwareCollectsOneValuePerReceiver(t *testing.T) {
	t.Parallel()
	a := newReceiverServer(t, rssiReply(-52.5))
	b := newReceiverServer(t, rssiReply(-71))
	h := hardware(t, a, b)

	got, err := h.GetRSSI(timeout(t, 2*time.Second), "aa:bb")
	require.NoError(t, err)
	assert.Equal(t, []float64{-52.5, -71}, got)

	// The connection is reused for the next request.
	_, err = h.GetRSSI(timeout(t, 2*time.Second), "aa:bb")
	require.NoError(t, err)

	reqs := a.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "get_rssi", reqs[0].Cmd)
	assert.Equal(t, "aa:bb", reqs[0].TargetID)
	assert.Equal(t, Bluetooth, reqs[0].SignalType)
	assert.NotEmpty(t, reqs[0].ID)
	assert.NotEqual(t, reqs[0].ID, reqs[1].ID)
}

func TestHardwareSubstitutesFloorForFailedReceivers(t *testing.T) {
	t.Parallel()
	good := newReceiverServer(t, rssiReply(-60))
	broken := newReceiverServer(t, func(Request) string { return "not json" })
	weak := newReceiverServer(t, rssiReply(-130))
	h := hardware(t, good, broken, weak)

	got, err := h.GetRSSI(timeout(t, 2*time.Second), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{-60, DefaultNoiseFloorDBm, DefaultNoiseFloorDBm}, got)
}

func TestHardwareHonoursConfiguredFloor(t *testing.T) {
	t.Parallel()
	good := newReceiverServer(t, rssiReply(12))
	weak := newReceiverServer(t, rssiReply(-40))
	floor := 0.0
	h, err := NewHardware([]Transport{NewTCPTransport(good.addr()), NewTCPTransport(weak.addr())},
		HardwareOptions{NoiseFloorDBm: &floor})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	got, err := h.GetRSSI(timeout(t, 2*time.Second), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 0}, got)
}

func TestHardwareMapsTransportFailuresToNoSignal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		reply func(Request) string
		also  error
	}{
		{"malformed json", func(Request) string { return "{oops" }, errMalformedReply},
		{"connection reset", func(Request) string { return hangUp }, nil},
		{"receiver error", func(r Request) string { return fmt.Sprintf(`{"id":%q,"error":"radio off"}`, r.ID) }, nil},
		{"missing rssi", func(r Request) string { return fmt.Sprintf(`{"id":%q}`, r.ID) }, errMalformedReply},
		{"at floor", rssiReply(-99.5), nil},
		{"timeout", func(Request) string { return stall }, context.DeadlineExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := hardware(t, newReceiverServer(t, tc.reply), newReceiverServer(t, tc.reply))
			_, err := h.GetRSSI(timeout(t, 200*time.Millisecond), "x")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNoSignal), "got %v", err)
			if tc.also != nil {
				assert.True(t, errors.Is(err, tc.also), "got %v", err)
			}
		})
	}
}

func TestHardwareRecoversAfterStaleReply(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	calls := 0
	srv := newReceiverServer(t, func(r Request) string {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return stall
		}
		return fmt.Sprintf(`{"id":"stale"}`+"\n"+`{"id":%q,"rssi":-45}`, r.ID)
	})
	h := hardware(t, srv)

	_, err := h.GetRSSI(timeout(t, 100*time.Millisecond), "x")
	require.True(t, errors.Is(err, ErrNoSignal))

	got, err := h.GetRSSI(timeout(t, 2*time.Second), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{-45}, got)
}

func TestHardwareScanMergesReceivers(t *testing.T) {
	t.Parallel()
	other := newReceiverServer(t, func(r Request) string {
		return fmt.Sprintf(`{"id":%q,"targets":["cc:dd","ee:ff"]}`, r.ID)
	})
	down := newReceiverServer(t, func(Request) string { return hangUp })
	h := hardware(t, newReceiverServer(t, rssiReply(-50)), other, down)

	ids, err := h.ScanTargets(timeout(t, 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"aa:bb", "cc:dd", "ee:ff"}, ids)

	h = hardware(t, down)
	_, err = h.ScanTargets(timeout(t, 2*time.Second))
	assert.True(t, errors.Is(err, ErrNoSignal))
}

func TestHardwareUnreachableReceiver(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	h, err := NewHardware([]Transport{NewTCPTransport(addr)}, HardwareOptions{})
	require.NoError(t, err)
	_, err = h.GetRSSI(timeout(t, time.Second), "x")
	assert.True(t, errors.Is(err, ErrNoSignal))
}

func TestSerialTransport(t *testing.T) {
	t.Parallel()
	port := serialmux.NewTestableSerialPort()
	port.Respond = func(line string) string {
		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return ""
		}
		return fmt.Sprintf(`# boot chatter`+"\n"+`{"id":%q,"rssi":-63.25}`, req.ID)
	}
	mux := serialmux.NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())
	go mux.Monitor(ctx)
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})

	h, err := NewHardware([]Transport{NewSerialTransport(mux)}, HardwareOptions{})
	require.NoError(t, err)
	got, err := h.GetRSSI(timeout(t, 2*time.Second), "tag-7")
	require.NoError(t, err)
	assert.Equal(t, []float64{-63.25}, got)
	assert.Contains(t, port.Written(), `"target_id":"tag-7"`)
}

func TestOpenTransport(t *testing.T) {
	t.Parallel()
	tr, err := OpenTransport("tcp://127.0.0.1:9999", serialmux.PortOptions{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", tr.(*TCPTransport).Addr())

	_, err = OpenTransport("no-port", serialmux.PortOptions{})
	assert.Error(t, err)
	_, err = OpenTransport("serial:/dev/does-not-exist", serialmux.PortOptions{})
	assert.Error(t, err)
}
