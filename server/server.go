// Package server exposes lobbies over websockets and a small JSON API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/brensch/pit/catalog"
	"github.com/brensch/pit/lobby"
	"github.com/brensch/pit/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second

	inboundBuffer = 16
)

type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       zerolog.Logger
}

type Server struct {
	lobbies  *lobby.Manager
	catalog  *catalog.Catalog
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader

	conns atomic.Int64
}

func New(lobbies *lobby.Manager, cat *catalog.Catalog, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	return &Server{
		lobbies: lobbies,
		catalog: cat,
		opts:    opts,
		log:     opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int64 { return s.conns.Load() }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/api/games", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.catalog.Status())
	})
	r.Get("/api/lobbies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.lobbies.List())
	})
	r.Get("/api/lobbies/{key}", func(w http.ResponseWriter, r *http.Request) {
		st, err := s.lobbies.Status(chi.URLParam(r, "key"))
		if errors.Is(err, lobby.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
	r.Get("/ws", s.serveWS)
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("http")
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade")
		return
	}
	c := newClient(conn, s.log)
	s.conns.Add(1)
	c.log.Debug().Str("remote", r.RemoteAddr).Msg("connected")

	go func() {
		defer conn.Close()
		if err := c.writePump(s.opts.PingInterval, s.opts.WriteTimeout); err != nil {
			c.log.Debug().Err(err).Msg("write")
		}
		c.close()
	}()

	inbound := make(chan protocol.Message, inboundBuffer)
	handled := make(chan struct{})
	go func() {
		defer close(handled)
		s.handle(c, inbound)
	}()

	s.readLoop(c, inbound)
	c.close()
	close(inbound)
	<-handled

	if err := s.lobbies.Leave(c); err != nil && !errors.Is(err, lobby.ErrNotSeated) {
		c.log.Warn().Err(err).Msg("leave on disconnect")
	}
	c.close()
	s.conns.Add(-1)
	c.log.Debug().Msg("disconnected")
}

// handle runs the connection's commands in order, off the read loop, so a
// long command never stops pongs from being read.
func (s *Server) handle(c *client, inbound <-chan protocol.Message) {
	for msg := range inbound {
		select {
		case <-c.done:
			continue
		default:
		}
		if !s.route(c, msg) {
			c.close()
			return
		}
	}
}

func (s *Server) readLoop(c *client, inbound chan<- protocol.Message) {
	deadline := 2 * s.opts.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		if kind != websocket.TextMessage {
			c.Send(protocol.Response{Code: protocol.CodeMalformed, Msg: "expected a text message"})
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(protocol.Response{Code: protocol.CodeMalformed, Msg: err.Error()})
			continue
		}
		select {
		case inbound <- msg:
		case <-c.done:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
