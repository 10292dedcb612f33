// Package feed exposes behavior events to presentation clients over
// websocket. The renderer (desktop overlay, debug page, whatever)
// connects to /ws and receives every speak/action/emote event as JSON.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/deskmate/internal/bus"
)

const writeTimeout = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// Server broadcasts bus events to all connected websocket clients.
type Server struct {
	host    string
	port    int
	events  <-chan bus.BehaviorEvent
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
	done    chan struct{}
}

// New binds host:port; an empty host listens on all interfaces.
func New(host string, port int, events <-chan bus.BehaviorEvent) *Server {
	return &Server{
		host:   host,
		port:   port,
		events: events,
		done:   make(chan struct{}),
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		log.Printf("[feed] listening on %s", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[feed] server error: %v", err)
		}
	}()

	go s.pump()

	return nil
}

// pump drains the event channel and fans each event out to every
// connected client until Stop is called or the channel closes.
func (s *Server) pump() {
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.broadcast(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Server) broadcast(ev bus.BehaviorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[feed] marshal event: %v", err)
		return
	}

	s.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			log.Printf("[feed] write to %s: %v", c.id, err)
		}
		return true
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[feed] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("feed-%d", s.nextID.Add(1))
	s.clients.Store(clientID, &wsClient{conn: conn, id: clientID})
	log.Printf("[feed] client connected: %s", clientID)

	defer func() {
		s.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[feed] client disconnected: %s", clientID)
	}()

	// The feed is one-way. Keep reading so we notice disconnects and
	// answer control frames, but drop anything the client sends.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (s *Server) Stop() error {
	close(s.done)
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.Printf("[feed] shutdown error: %v", err)
		}
	}
	s.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[feed] stopped")
	return nil
}
