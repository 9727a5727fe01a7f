package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	Addr string
	// Store records registrations. Defaults to an in-memory database.
	Store  store.RegistrationRepository
	Logger *logrus.Logger
}

type Server struct {
	listener net.Listener
	http     *http.Server
	store    store.RegistrationRepository
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[string]*session
}

type session struct {
	conn       *websocket.Conn
	remoteAddr string
	writeMu    sync.Mutex
	id         string
}

func (s *session) send(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

func NewServer(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	st := cfg.Store
	if st == nil {
		gdb, err := db.Open(":memory:")
		if err != nil {
			return nil, err
		}
		st = store.NewRegistrationStore(gdb)
	}
	if err := st.DropAll(context.Background()); err != nil {
		return nil, fmt.Errorf("clearing stale registrations: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}

	s := &Server{
		listener: ln,
		store:    st,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		peers: make(map[string]*session),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL is the websocket endpoint clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/ws"
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleConnect)
	mux.HandleFunc("/peers", s.handlePeers)
	return mux
}

// Start serves until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.log.WithField("addr", s.Addr()).Info("Signaling server started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		_ = s.Shutdown()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Shutdown() error {
	s.log.Info("Shutting down signaling server")

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.peers))
	for _, sess := range s.peers {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	// hijacked websocket conns are not closed by http.Server.Shutdown
	for _, sess := range sessions {
		_ = sess.conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("remote", r.RemoteAddr).Warnf("Websocket upgrade failed: %v", err)
		return
	}

	sess := &session{conn: conn, remoteAddr: r.RemoteAddr}
	s.log.WithField("remote", sess.remoteAddr).Debug("Client connected")

	defer func() {
		_ = conn.Close()
		s.release(sess)
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				_ = sess.send(errorMessage(CodeBadRequest, "malformed message"))
				continue
			}
			s.log.WithField("remote", sess.remoteAddr).Debugf("Client gone: %v", err)
			return
		}

		s.handleMessage(r.Context(), sess, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, sess *session, msg Message) {
	switch msg.Type {
	case MsgRegister:
		s.register(ctx, sess, msg.ID)
	case MsgOffer, MsgAnswer:
		s.relay(sess, msg)
	default:
		s.log.WithField("type", msg.Type).Warn("Unhandled message type")
		_ = sess.send(errorMessage(CodeBadRequest, fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (s *Server) register(ctx context.Context, sess *session, id string) {
	if sess.id != "" {
		_ = sess.send(errorMessage(CodeAlreadyRegistered, sess.id))
		return
	}
	if id == "" {
		id = uuid.NewString()
	}

	claimed, err := s.store.Claim(ctx, id, sess.remoteAddr)
	if err != nil {
		s.log.WithField("peer", id).Errorf("Recording registration failed: %v", err)
		_ = sess.send(errorMessage("internal", "registration failed"))
		return
	}
	if !claimed {
		s.log.WithField("peer", id).Info("Registration rejected, id taken")
		_ = sess.send(Message{Type: MsgError, Code: CodeIDTaken, ID: id, Message: "id is already registered"})
		return
	}

	s.mu.Lock()
	sess.id = id
	s.peers[id] = sess
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"peer": id, "remote": sess.remoteAddr}).Info("Peer registered")
	_ = sess.send(Message{Type: MsgRegistered, ID: id})
}

func (s *Server) relay(from *session, msg Message) {
	if from.id == "" {
		_ = from.send(Message{Type: MsgError, Code: CodeNotRegistered, To: msg.To, ConnID: msg.ConnID})
		return
	}

	s.mu.RLock()
	target, ok := s.peers[msg.To]
	s.mu.RUnlock()

	log := s.log.WithFields(logrus.Fields{"from": from.id, "to": msg.To, "conn": msg.ConnID})
	if !ok {
		log.Debugf("Cannot relay %s, peer not found", msg.Type)
		_ = from.send(Message{Type: MsgError, Code: CodePeerNotFound, To: msg.To, ConnID: msg.ConnID, Message: "peer not found"})
		return
	}

	msg.From = from.id
	msg.To = ""
	if err := target.send(msg); err != nil {
		log.Warnf("Relaying %s failed: %v", msg.Type, err)
		_ = from.send(Message{Type: MsgError, Code: CodePeerNotFound, To: target.id, ConnID: msg.ConnID, Message: "peer unreachable"})
		return
	}
	log.Debugf("Relayed %s", msg.Type)
}

func (s *Server) release(sess *session) {
	s.mu.Lock()
	id := sess.id
	if id != "" && s.peers[id] == sess {
		delete(s.peers, id)
	}
	s.mu.Unlock()

	if id == "" {
		return
	}
	if err := s.store.Release(context.Background(), id); err != nil {
		s.log.WithField("peer", id).Warnf("Releasing registration failed: %v", err)
	}
	s.log.WithField("peer", id).Info("Peer disconnected")
}

// handlePeers lists current registrations as JSON.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	regs, err := s.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type peer struct {
		ID          string `json:"id"`
		ConnectedAt int64  `json:"connected_at"`
	}
	out := make([]peer, 0, len(regs))
	for _, reg := range regs {
		out = append(out, peer{ID: reg.PeerID, ConnectedAt: reg.ConnectedAt})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
