// Package control serves the loopback control socket used by the play and
// diagnose clients, and implements those clients.
package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chargechime/internal/controller"
)

// Path is the HTTP path of the control socket.
const Path = "/ws/control"

// Handler executes control requests.
type Handler interface {
	CustomCommand(ctx context.Context, code int) (string, error)
	Status(ctx context.Context) controller.Status
}

type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Server struct {
	handler  Handler
	tokens   *TokenManager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(handler Handler, tokens *TokenManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		handler: handler,
		tokens:  tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.ServeWS)
	return mux
}

// ListenAndServe serves the control socket on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("control surface listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := s.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		s.logger.Debug("control connection rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.logger.Debug("control client connected", "subject", claims.Subject, "jti", claims.ID)
	s.ServeConn(r.Context(), conn)
}

func (s *Server) ServeConn(ctx context.Context, conn WSConn) {
	var writeMu sync.Mutex
	send := func(m Message) error {
		data, err := encodeMessage(m)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			_ = send(Message{Type: TypeError, Status: "bad_request", Message: "binary CBOR frames only"})
			continue
		}
		msg, err := decodeMessage(data)
		if err != nil {
			_ = send(Message{Type: TypeError, Status: "bad_request", Message: "invalid cbor"})
			continue
		}
		switch msg.Type {
		case TypeCommand:
			out, err := s.handler.CustomCommand(ctx, msg.Code)
			reply := Message{Type: TypeResult, RequestID: msg.RequestID, Code: msg.Code, Status: "ok", Message: out}
			if err != nil {
				reply.Status = "failed"
				reply.Message = err.Error()
			}
			if err := send(reply); err != nil {
				return
			}
		case TypeStatus:
			if err := send(statusMessage(msg.RequestID, s.handler.Status(ctx))); err != nil {
				return
			}
		case TypeHeartbeat:
			// no-op
		default:
			_ = send(Message{Type: TypeError, RequestID: msg.RequestID, Status: "bad_request", Message: "unknown message type"})
		}
	}
}

func statusMessage(requestID string, st controller.Status) Message {
	m := Message{Type: TypeStatus, RequestID: requestID, Status: "ok", Playing: st.Playing, Adjustment: st.Adjustment}
	for _, ss := range st.Sessions {
		m.Sessions = append(m.Sessions, SessionInfo{ID: uint32(ss.ID), AgentPID: ss.AgentPID, Alive: ss.Alive})
	}
	return m
}
