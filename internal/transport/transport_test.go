package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hookbus/hookbus/internal/hookerr"
)

type stubHandler struct {
	UnsupportedHandler

	mu       sync.Mutex
	reports  []ReportDescriptor
	messages []string
}

func (s *stubHandler) HandleReport(_ context.Context, desc ReportDescriptor) (ReportAck, error) {
	s.mu.Lock()
	s.reports = append(s.reports, desc)
	s.mu.Unlock()
	return ReportAck{AssignedName: desc.Name, AssignedID: "id-1", ServerVersion: "1.0.0"}, nil
}

func (s *stubHandler) HandleMessage(_ context.Context, topic string, data interface{}) (interface{}, error) {
	s.mu.Lock()
	s.messages = append(s.messages, topic)
	s.mu.Unlock()
	return data, nil
}

func (s *stubHandler) HandleHasEvent(_ context.Context, parts []string) (bool, error) {
	return len(parts) > 0 && parts[0] == "known", nil
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestListenDialReportRoundTrip(t *testing.T) {
	port := freePort(t)
	serverHandler := &stubHandler{}

	var accepted *Conn
	var acceptWg sync.WaitGroup
	acceptWg.Add(1)
	ln, err := Listen("127.0.0.1", port, "", func(c *Conn) {
		c.SetHandler(serverHandler)
		accepted = c
		acceptWg.Done()
	})
	require.NoError(t, err)
	defer ln.Close()

	time.Sleep(50 * time.Millisecond)

	clientHandler := &stubHandler{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "127.0.0.1", port, "", clientHandler)
	require.NoError(t, err)
	defer conn.Close()

	acceptWg.Wait()
	require.NotNil(t, accepted)

	ack, err := conn.Report(ctx, ReportDescriptor{Name: "worker", Type: "hook", Version: "1.0.0"})
	require.NoError(t, err)
	require.Equal(t, "worker", ack.AssignedName)
	require.Equal(t, "1.0.0", ack.ServerVersion)

	result, err := conn.Message(ctx, "jobs::created", map[string]interface{}{"id": float64(42)}, true)
	require.NoError(t, err)
	require.NotNil(t, result)

	matched, err := accepted.HasEvent(ctx, []string{"known"})
	require.NoError(t, err)
	require.True(t, matched)

	notMatched, err := accepted.HasEvent(ctx, []string{"unknown"})
	require.NoError(t, err)
	require.False(t, notMatched)
}

func TestListenBindErrorOnAddressInUse(t *testing.T) {
	port := freePort(t)
	ln, err := Listen("127.0.0.1", port, "", func(*Conn) {})
	require.NoError(t, err)
	defer ln.Close()

	time.Sleep(20 * time.Millisecond)

	_, err = Listen("127.0.0.1", port, "", func(*Conn) {})
	require.Error(t, err)
	require.True(t, hookerr.IsBindError(err))
}

func TestListenDialOverUnixSocket(t *testing.T) {
	socket := t.TempDir() + "/hookbus.sock"
	serverHandler := &stubHandler{}

	var acceptWg sync.WaitGroup
	acceptWg.Add(1)
	ln, err := Listen("", 0, socket, func(c *Conn) {
		c.SetHandler(serverHandler)
		acceptWg.Done()
	})
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "", 0, socket, &stubHandler{})
	require.NoError(t, err)
	defer conn.Close()

	acceptWg.Wait()

	ack, err := conn.Report(ctx, ReportDescriptor{Name: "worker", Type: "hook", Version: "1.0.0"})
	require.NoError(t, err)
	require.Equal(t, "worker", ack.AssignedName)
}

func TestCallTimesOutOnCanceledContext(t *testing.T) {
	port := freePort(t)
	ln, err := Listen("127.0.0.1", port, "", func(c *Conn) {
		// Never install a handler and never reply; client call should
		// time out rather than hang forever.
	})
	require.NoError(t, err)
	defer ln.Close()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "127.0.0.1", port, "", &stubHandler{})
	require.NoError(t, err)
	defer conn.Close()

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	_, err = conn.Report(shortCtx, ReportDescriptor{Name: "x"})
	require.Error(t, err)
}
