package relay

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lyolishe/collaborative-text-editor/proto"
	"github.com/lyolishe/collaborative-text-editor/transport"
)

// Server is the relay's HTTP surface: a hijacked /ws/:docId session
// endpoint plus /healthz, mirroring the gin.New()+gin.Recovery()+CORS
// shape zmux-server's cmd/zmux-server/main.go wires up.
type Server struct {
	engine   *gin.Engine
	registry *Registry
	logger   *zap.SugaredLogger
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.SugaredLogger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCORSOrigins enables CORS for the given origins; if empty, CORS is
// left disabled.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		if len(origins) == 0 {
			return
		}
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
		}))
	}
}

// NewServer constructs a relay Server backed by registry.
func NewServer(registry *Registry, opts ...ServerOption) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, registry: registry, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/ws/:docId", s.handleWS)
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWS hijacks the connection and hands it to the relay's session
// loop. There is no WebSocket upgrade response (see DESIGN.md for why);
// the hijacked connection moves straight to newline-delimited JSON
// framing once the handler takes it over.
func (s *Server) handleWS(c *gin.Context) {
	docID := c.Param("docId")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing docId"})
		return
	}

	hijacker, ok := c.Writer.(http.Hijacker)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "hijack not supported"})
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		s.logger.Warnw("hijack failed", "doc", docID, "error", err)
		return
	}

	p := newParticipant(uuid.NewString(), docID, conn)
	defer p.close()

	count, joined := s.registry.join(p)
	if !joined {
		s.logger.Infow("rejecting participant: document at capacity", "doc", docID)
		return
	}
	defer func() {
		remaining := s.registry.leave(p)
		s.registry.broadcastUsersUpdate(docID, remaining)
	}()
	s.registry.broadcastUsersUpdate(docID, count)

	s.sessionLoop(p)
}

// sessionLoop reads framed envelopes from p until the connection closes,
// dispatching each to its handler.
func (s *Server) sessionLoop(p *participant) {
	for {
		env, err := p.recv()
		if err != nil {
			return
		}
		if env.Type != "operation" {
			continue
		}
		s.handleOperation(p, env)
	}
}

func (s *Server) handleOperation(p *participant, env transport.Envelope) {
	if env.Operation == nil {
		s.ackFailure(p, env, fmt.Errorf("missing operation field"))
		return
	}
	if err := env.Operation.Validate(); err != nil {
		s.ackFailure(p, env, err)
		return
	}

	out := transport.Envelope{Type: "operation", Operation: env.Operation}
	broadcastErr := s.registry.broadcastOperation(p.docID, p.id, out)
	if broadcastErr != nil {
		s.logger.Debugw("operation fan-out partially failed", "doc", p.docID, "error", broadcastErr)
	}

	if env.IsSync && opID(env.Operation) != "" {
		success := true
		_ = p.send(transport.Envelope{Type: "operation_ack", OperationID: opID(env.Operation), Success: &success})
	}
}

func (s *Server) ackFailure(p *participant, env transport.Envelope, cause error) {
	s.logger.Debugw("rejecting malformed operation message", "doc", p.docID, "error", cause)
	if !env.IsSync || env.Operation == nil {
		return
	}
	success := false
	_ = p.send(transport.Envelope{
		Type:        "operation_ack",
		OperationID: opID(env.Operation),
		Success:     &success,
		Error:       cause.Error(),
	})
}

// opID derives the ack correlation id from an operation's own id field.
func opID(op *proto.Operation) string {
	if op == nil || len(op.ID) == 0 {
		return ""
	}
	return op.ID.String()
}
