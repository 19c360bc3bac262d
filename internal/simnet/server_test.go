package simnet

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startTestDashboard(t *testing.T) (*DashboardServer, string, context.CancelFunc) {
	t.Helper()

	sim := New("test-run", nil, nil, "run-1", nil)
	port := getFreePort(t)
	addr := net.JoinHostPort("127.0.0.1", itoa(port))

	srv := NewDashboardServer(addr, sim, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	time.Sleep(150 * time.Millisecond)

	return srv, addr, cancel
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func dialDashboard(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial dashboard: %v", err)
	}
	return conn
}

func TestDashboardServerSendsRunMessageOnConnect(t *testing.T) {
	_, addr, cancel := startTestDashboard(t)
	defer cancel()

	conn := dialDashboard(t, addr)
	defer conn.Close()

	var msg DashboardMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read run message: %v", err)
	}
	if msg.Type != "run" {
		t.Fatalf("Type = %q, want %q", msg.Type, "run")
	}
	if msg.Run == nil || msg.Run.RunID != "run-1" {
		t.Fatalf("Run = %+v, want RunID run-1", msg.Run)
	}
}

func TestDashboardServerBroadcastsTicks(t *testing.T) {
	srv, addr, cancel := startTestDashboard(t)
	defer cancel()

	conn := dialDashboard(t, addr)
	defer conn.Close()

	var first DashboardMsg
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial message: %v", err)
	}

	srv.Broadcast(DashboardMsg{Type: "tick", Slot: 42})

	var tick DashboardMsg
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&tick); err != nil {
		t.Fatalf("read tick message: %v", err)
	}
	if tick.Type != "tick" || tick.Slot != 42 {
		t.Fatalf("tick = %+v, want Type=tick Slot=42", tick)
	}
}
