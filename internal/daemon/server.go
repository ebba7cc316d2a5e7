package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// Handler serves the daemon's review operations.
type Handler interface {
	HandleTrigger(ctx context.Context, params TriggerParams) (TriggerResult, error)
	HandleRunStatus(ctx context.Context, params RunStatusParams) (RunStatusResult, error)
	HandlePublishFinding(ctx context.Context, params PublishFindingParams) (PublishFindingResult, error)
	HandlePublishRun(ctx context.Context, params PublishRunParams) (PublishRunResult, error)
}

// Server listens on a Unix socket and handles RPC requests, one request
// per connection.
type Server struct {
	logger     *slog.Logger
	socketPath string
	listener   net.Listener
	handler    Handler

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for the given socket path.
func NewServer(logger *slog.Logger, socketPath string, handler Handler) *Server {
	return &Server{
		logger:     logger,
		socketPath: socketPath,
		handler:    handler,
	}
}

// ListenAndServe starts the server and blocks until the context is
// cancelled. A stale socket left by a previous process is removed first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("daemon listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		s.logger.Warn("failed to set connection deadline", "error", err)
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	_ = encoder.Encode(s.handleRequest(ctx, req))
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodTriggerReview:
		return handle(ctx, req, s.logger, (*TriggerParams).Validate,
			s.handler.HandleTrigger, ErrCodeTriggerFailed)

	case MethodRunStatus:
		return handle(ctx, req, s.logger, (*RunStatusParams).Validate,
			s.handler.HandleRunStatus, ErrCodeInternalError)

	case MethodPublishFinding:
		return handle(ctx, req, s.logger, (*PublishFindingParams).Validate,
			s.handler.HandlePublishFinding, ErrCodePublishFailed)

	case MethodPublishRun:
		return handle(ctx, req, s.logger, (*PublishRunParams).Validate,
			s.handler.HandlePublishRun, ErrCodePublishFailed)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handle decodes, validates, and dispatches one typed request.
func handle[P any, R any](ctx context.Context, req Request, logger *slog.Logger,
	validate func(*P) error, fn func(context.Context, P) (R, error), failCode int) Response {

	paramsData, err := json.Marshal(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params")
	}
	var params P
	if err := json.Unmarshal(paramsData, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := validate(&params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	result, err := fn(ctx, params)
	if err != nil {
		logger.Warn("request failed", "method", req.Method, "error", err)
		return NewErrorResponse(req.ID, rpcCode(err, failCode), err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

// rpcCode maps coded pipeline errors onto wire error codes.
func rpcCode(err error, fallback int) int {
	var re *ierrors.ReviewError
	if errors.As(err, &re) && re.Code == ierrors.ErrCodeRunNotFound {
		return ErrCodeRunNotFound
	}
	return fallback
}
