package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoResponder(cmd string) string {
	switch {
	case strings.HasPrefix(cmd, "PX"):
		return "1234"
	case cmd == "SILENT":
		return ""
	default:
		return "OK"
	}
}

func startMonitor(t *testing.T, mux *SerialMux[*TestableSerialPort]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	t.Cleanup(func() {
		cancel()
		mux.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("monitor did not exit")
		}
	})
}

func TestSendCommand_AppendsNewline(t *testing.T) {
	mux, port := NewMockSerialMux(nil)

	require.NoError(t, mux.SendCommand("X100"))
	require.NoError(t, mux.SendCommand("Y200\n"))

	assert.Equal(t, "X100\nY200\n", port.Written())
	assert.Equal(t, []string{"X100", "Y200"}, port.Commands())
}

func TestSendCommand_WriteError(t *testing.T) {
	mux, port := NewMockSerialMux(nil)
	port.WriteError = errors.New("boom")

	err := mux.SendCommand("X1")
	require.Error(t, err)

	// error is consumed by one write
	require.NoError(t, mux.SendCommand("X1"))
}

func TestQuery_ReturnsReply(t *testing.T) {
	mux, _ := NewMockSerialMux(echoResponder)
	startMonitor(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := mux.Query(ctx, "PX")
	require.NoError(t, err)
	assert.Equal(t, "1234", reply)

	reply, err = mux.Query(ctx, "X100")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}

func TestQuery_ContextTimeout(t *testing.T) {
	mux, _ := NewMockSerialMux(echoResponder)
	startMonitor(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := mux.Query(ctx, "SILENT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQuery_Serialised(t *testing.T) {
	mux, _ := NewMockSerialMux(func(cmd string) string { return "re:" + cmd })
	startMonitor(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		cmd, reply string
		err        error
	}
	results := make(chan result, 20)
	for i := 0; i < 20; i++ {
		cmd := "Q" + strings.Repeat("x", i)
		go func() {
			reply, err := mux.Query(ctx, cmd)
			results <- result{cmd, reply, err}
		}()
	}
	for i := 0; i < 20; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, "re:"+r.cmd, r.reply)
	}
}

func TestSubscribe_FanOut(t *testing.T) {
	mux, port := NewMockSerialMux(nil)
	startMonitor(t, mux)

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()
	defer mux.Unsubscribe(id1)
	defer mux.Unsubscribe(id2)

	port.Feed("hello\n")

	for _, ch := range []chan string{ch1, ch2} {
		select {
		case line := <-ch:
			assert.Equal(t, "hello", line)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for line")
		}
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	mux, _ := NewMockSerialMux(nil)
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	// unknown ids are ignored
	mux.Unsubscribe("missing")
}

func TestMonitor_ReturnsOnEOF(t *testing.T) {
	mux, port := NewMockSerialMux(nil)
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	port.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit on EOF")
	}
}

func TestClose_RejectsCommands(t *testing.T) {
	mux, port := NewMockSerialMux(nil)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	require.NoError(t, mux.Close())

	assert.True(t, port.Closed())
	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, mux.SendCommand("X1"), ErrClosed)
}

func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes_SendCommand(t *testing.T) {
	mux, port := NewMockSerialMux(echoResponder)
	startMonitor(t, mux)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=HX-"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"HX-"`)
	assert.Contains(t, port.Commands(), "HX-")

	req = localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=PX&reply=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1234", rec.Body.String())
}

func TestAdminRoutes_SendCommandRejects(t *testing.T) {
	mux, _ := NewMockSerialMux(nil)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command-api", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=+"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes_Tail(t *testing.T) {
	mux, _ := NewMockSerialMux(nil)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	ctx, cancel := context.WithCancel(context.Background())
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(rec, req)
		close(done)
	}()

	// closing the mux closes the subscriber channel and ends the stream
	time.Sleep(20 * time.Millisecond)
	mux.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("tail handler did not return")
	}
	cancel()

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ": ping")
}
