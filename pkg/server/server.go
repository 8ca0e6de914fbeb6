// Package server exposes the calibration bridge to browser clients over a
// websocket push channel, plus a Prometheus metrics endpoint. Clients
// connect to /stream, receive live pulse counts, status notices, and run
// results, and send start/stop/reset commands back.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/raffitch/flowmeter/pkg/config"
	"github.com/raffitch/flowmeter/pkg/metrics"
	"github.com/raffitch/flowmeter/pkg/run"
)

const writeTimeout = time.Second

// Server is the websocket hub. Command handlers are registered before
// serving; broadcasts may be called from any goroutine.
type Server struct {
	cfg *config.Config

	mu      sync.Mutex
	clients map[*client]struct{}
	queued  []statusMessage // Status notices raised before any client connected
	pulses  uint64

	onStart func(volume float64) error
	onStop  func() error
	onReset func() error
}

type client struct {
	out chan interface{}
}

// send queues a message for the client's writer. A full buffer drops the
// message rather than stall the hub on a slow client.
func (cl *client) send(msg interface{}) {
	select {
	case cl.out <- msg:
	default:
	}
}

// New creates a hub for the configured listen address.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
}

// HandleStart registers the callback for {"cmd":"start","volume":V}.
func (s *Server) HandleStart(fn func(volume float64) error) { s.onStart = fn }

// HandleStop registers the callback for the bare "stop" token.
func (s *Server) HandleStop(fn func() error) { s.onStop = fn }

// HandleReset registers the callback for the bare "reset" token.
func (s *Server) HandleReset(fn func() error) { s.onReset = fn }

// Handler returns the route table: /stream for the websocket channel and
// /metrics for Prometheus.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.streamHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe runs the HTTP server and the live-pulse ticker until the
// context is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: s.Handler()}

	go s.liveLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", s.cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SetPulses records the most recent counter reading for the live ticker.
func (s *Server) SetPulses(n uint64) {
	s.mu.Lock()
	s.pulses = n
	s.mu.Unlock()
}

// Status broadcasts a status notice. With no client connected the notice
// is queued and delivered when the next client attaches, so a client that
// connects after the serial port opened still learns about it.
func (s *Server) Status(msg string) {
	st := newStatusMessage(msg)

	s.mu.Lock()
	if len(s.clients) == 0 {
		s.queued = append(s.queued, st)
		s.mu.Unlock()
		return
	}
	targets := s.clientsLocked()
	s.mu.Unlock()

	for _, cl := range targets {
		cl.send(st)
	}
}

// BroadcastResult pushes a finalized run result to every client.
func (s *Server) BroadcastResult(res run.Result) {
	s.broadcast(newCalMessage(res))
}

func (s *Server) broadcast(msg interface{}) {
	s.mu.Lock()
	targets := s.clientsLocked()
	s.mu.Unlock()

	for _, cl := range targets {
		cl.send(msg)
	}
}

func (s *Server) clientsLocked() []*client {
	targets := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		targets = append(targets, cl)
	}
	return targets
}

func (s *Server) liveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Server.LiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.broadcastLive()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) broadcastLive() {
	s.mu.Lock()
	msg := newLiveMessage(s.pulses)
	targets := s.clientsLocked()
	s.mu.Unlock()

	for _, cl := range targets {
		cl.send(msg)
	}
}

// register attaches a client and hands back any status backlog, clearing
// the queue so notices are delivered exactly once.
func (s *Server) register(cl *client) []statusMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[cl] = struct{}{}
	backlog := s.queued
	s.queued = nil
	return backlog
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, cl)
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("websocket accept: %v", err)
		return
	}
	log.Printf("accepted websocket client %s", r.RemoteAddr)
	defer log.Printf("closed websocket client %s", r.RemoteAddr)
	defer c.Close(websocket.StatusNormalClosure, "")

	cl := &client{out: make(chan interface{}, 16)}
	backlog := s.register(cl)
	defer s.unregister(cl)
	metrics.ConnectedClients.Inc()
	defer metrics.ConnectedClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			select {
			case msg := <-cl.out:
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(wctx, c, msg)
				wcancel()
				if err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for _, st := range backlog {
		cl.send(st)
	}

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		s.dispatch(cl, data)
	}
}

// dispatch routes one parsed client command. Rejections go back to the
// issuing client only; other clients are unaffected.
func (s *Server) dispatch(cl *client, data []byte) {
	req, err := parseRequest(data)
	if err != nil {
		log.Printf("bad client request: %v", err)
		cl.send(newErrorMessage(err.Error()))
		return
	}

	switch req.Cmd {
	case "start":
		if s.onStart == nil {
			return
		}
		if err := s.onStart(req.Volume); err != nil {
			cl.send(newErrorMessage(err.Error()))
			return
		}
		cl.send(newAckMessage("started"))

	case "stop":
		if s.onStop == nil {
			return
		}
		if err := s.onStop(); err != nil {
			log.Printf("stop: %v", err)
		}

	case "reset":
		if s.onReset == nil {
			return
		}
		if err := s.onReset(); err != nil {
			cl.send(newErrorMessage(err.Error()))
			return
		}
		cl.send(newAckMessage("reset-sent"))

	default:
		cl.send(newErrorMessage("unknown command: " + req.Cmd))
	}
}
