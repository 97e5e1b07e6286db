package service

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 阻塞直到服务关闭；正常 Shutdown 返回 http.ErrServerClosed
func (s *Server) Start() error {
	s.logger.Info("Starting wisefido-vitals HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Serve 在已有监听上提供服务
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting wisefido-vitals HTTP server", zap.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-vitals HTTP server")
	return s.httpServer.Shutdown(ctx)
}
