package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func startMonitor(t *testing.T, m *SerialMux[*TestableSerialPort]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Monitor(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		m.Close()
		<-done
	})
}

func TestSendCommandAppendsNewline(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	m := NewSerialMux(port)

	require.NoError(t, m.SendCommand(`{"cmd":"scan_targets"}`))
	require.NoError(t, m.SendCommand("ping\n"))
	assert.Equal(t, "{\"cmd\":\"scan_targets\"}\nping\n", port.Written())

	port.WriteError = errors.New("unplugged")
	assert.ErrorContains(t, m.SendCommand("x"), "unplugged")
}

func TestMonitorFansOutLines(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	m := NewSerialMux(port)
	_, a := m.Subscribe()
	_, b := m.Subscribe()
	startMonitor(t, m)

	port.AddReadData([]byte("one\ntwo\n"))
	for _, ch := range []<-chan string{a, b} {
		assert.Equal(t, "one", <-ch)
		assert.Equal(t, "two", <-ch)
	}
}

func TestRequestMatchesReply(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	port.Respond = func(line string) string {
		// Unrelated chatter precedes the reply.
		return "noise\nreply:" + line
	}
	m := NewSerialMux(port)
	startMonitor(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, cmd := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Request(ctx, cmd, func(line string) bool { return line == "reply:"+cmd })
			assert.NoError(t, err)
			assert.Equal(t, "reply:"+cmd, got)
		}()
	}
	wg.Wait()
}

func TestRequestHonoursContext(t *testing.T) {
	t.Parallel()
	m := NewSerialMux(NewTestableSerialPort())
	startMonitor(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Request(ctx, "silence", func(string) bool { return true })
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	m := NewSerialMux(port)
	_, ch := m.Subscribe()
	require.NoError(t, m.Close())

	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.Closed)

	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	_, err := m.Request(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	t.Parallel()
	m := NewSerialMux(NewTestableSerialPort())
	m.Unsubscribe("missing")
	id, ch := m.Subscribe()
	m.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestPortOptionsNormalize(t *testing.T) {
	t.Parallel()
	got, err := PortOptions{Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "E"}, got)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.Normalize()
		assert.ErrorIs(t, err, ErrInvalidOptions, "%+v", bad)
	}
	assert.Equal(t, "115200 8E1", got.String())

	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.OddParity}, mode)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
}

func TestAdminRoutesRegistered(t *testing.T) {
	t.Parallel()
	m := NewSerialMux(NewTestableSerialPort())
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	for _, path := range []string{"/debug/send-command", "/debug/send-command-api", "/debug/tail"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}

func TestAdminTailStreamsLines(t *testing.T) {
	t.Parallel()
	port := NewTestableSerialPort()
	m := NewSerialMux(port)
	startMonitor(t, m)

	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.True(t, strings.HasPrefix(scanner.Text(), ": ping"))

	port.AddReadData([]byte(`{"id":"x","rssi":-61.5}` + "\n"))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			assert.Equal(t, `data: {"id":"x","rssi":-61.5}`, line)
			break
		}
	}
}
