package simnet

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DashboardServer streams per-slot simulation state to connected
// dashboard clients over a websocket: a raw net/http mux with one
// gorilla/websocket upgrade handler and context-driven graceful
// shutdown. "/ws" streams DashboardMsg ticks; there is no TLS
// requirement since this is a local operator dashboard, not a
// client-facing service.
type DashboardServer struct {
	addr string
	sim  *Simulation

	mu      sync.Mutex
	clients map[*websocket.Conn]chan DashboardMsg

	logger *slog.Logger
}

// NewDashboardServer builds a server that streams sim's state on addr.
func NewDashboardServer(addr string, sim *Simulation, logger *slog.Logger) *DashboardServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardServer{
		addr:    addr,
		sim:     sim,
		clients: make(map[*websocket.Conn]chan DashboardMsg),
		logger:  logger,
	}
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *DashboardServer) Run(ctx context.Context) error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("dashboard websocket upgrade failed", "err", err)
			return
		}
		go s.handleClient(ctx, conn)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("mcsotdma simulation dashboard"))
	})

	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
	}()

	s.logger.Info("dashboard server listening", "addr", s.addr)
	err := httpSrv.ListenAndServe()
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *DashboardServer) handleClient(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	send := make(chan DashboardMsg, 32)
	s.mu.Lock()
	s.clients[conn] = send
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	run := RunInfo{RunID: s.sim.RunID(), NumNodes: len(s.sim.Nodes())}
	_ = conn.WriteJSON(DashboardMsg{Type: "run", Run: &run})

	// Drain client reads so a dropped connection is noticed promptly;
	// this dashboard feed is one-directional, so any inbound frame is
	// discarded.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// Broadcast pushes msg to every connected dashboard client, dropping it
// for any client whose send buffer is full rather than blocking the
// simulation loop.
func (s *DashboardServer) Broadcast(msg DashboardMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}
