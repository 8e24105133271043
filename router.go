package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turboalan/collab/pkg/config"
	"github.com/turboalan/collab/pkg/event"
	"github.com/turboalan/collab/pkg/handler"
	"github.com/turboalan/collab/pkg/service"
	"github.com/turboalan/collab/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	logger    *slog.Logger
	cfg       *config.AppConfig
	manager   *service.WorkspaceManager
	chat      *service.ChatWebSocketManager
	port      int
}

func NewServer(cfg *config.AppConfig, manager *service.WorkspaceManager, chat *service.ChatWebSocketManager, responder handler.AssistantResponder) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost origins.
	// Note: if you don't need cookies/credentials, keep Allow-Credentials off.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
		cfg:       cfg,
		manager:   manager,
		chat:      chat,
	}

	wireRealtime(manager, chat)
	server.SetupRoutes(responder)

	return server
}

// wireRealtime connects the workspace event bus to the websocket layer so
// every mutation path (HTTP, responder, refinement pipeline) fans out the
// same way. Message broadcasts exclude the sender, who already holds the
// message from the request that produced it.
func wireRealtime(manager *service.WorkspaceManager, chat *service.ChatWebSocketManager) {
	events := manager.Events()
	events.On(event.WorkspaceMessage, func(ev event.Event) {
		e := ev.(event.MessageAddedEvent)
		chat.BroadcastMessage(e.WorkspaceID, e.Message, e.Message.SenderID)
	})
	events.On(event.WorkspaceDocument, func(ev event.Event) {
		e := ev.(event.DocumentUpdatedEvent)
		chat.BroadcastDocumentUpdate(e.WorkspaceID, e.DocumentID, e.Kind, e.Data)
	})
}

func (s *Server) SetupRoutes(responder handler.AssistantResponder) {
	apiGroup := s.ginEngine.Group("/api")

	apiGroup.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"workspaces":       s.manager.WorkspaceCount(),
			"persist_failures": s.manager.PersistFailures(),
		})
	})

	workspaceHandler := handler.NewWorkspaceHandler(s.manager, s.chat, responder)
	workspaceHandler.RegisterRoutes(apiGroup)
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen first; if the port is occupied return the error
	// immediately instead of from the serve goroutine.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("server listening", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Periodic keepalive to every live websocket.
	go func() {
		ticker := time.NewTicker(time.Duration(s.cfg.HeartbeatSeconds()) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.chat.Heartbeat()
			}
		}
	}()

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}
