// Package server exposes the chat backend over HTTP: Twilio webhooks and the JSON chatbot API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/config"
	"github.com/wwwzy/sweepchat/internal/service"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

const rootHint = "this is not a valid endpoint, try /api/v1/chatbot with a POST request"

// webSender is the thread key of chatbot API calls that name no sender.
const webSender = "web"

// Handler processes one inbound message.
type Handler interface {
	HandleInbound(ctx context.Context, sender, text string, opts ...service.InboundOption) (service.Reply, error)
}

type Server struct {
	e       *echo.Echo
	handler Handler
	cfg     config.ServerConfig
	log     logrus.FieldLogger
}

func New(cfg config.ServerConfig, handler Handler, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{e: e, handler: handler, cfg: cfg, log: log}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":    v.Method,
				"uri":       v.URI,
				"status":    v.Status,
				"latency":   v.Latency.String(),
				"remote_ip": v.RemoteIP,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.e.GET("/", s.handleRoot)
	s.e.GET("/healthz", s.handleHealth)
	s.e.POST("/webhook/whatsapp", s.handleWebhook(config.ChannelWhatsApp))
	s.e.POST("/webhook/sms", s.handleWebhook(config.ChannelSMS))
	s.e.POST("/api/v1/chatbot", s.handleChatbot)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("starting server")
		if err := s.e.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"undefined": rootHint})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook accepts a Twilio inbound message. The reply goes out through the
// messaging provider, so the webhook itself answers with empty TwiML.
func (s *Server) handleWebhook(channel string) echo.HandlerFunc {
	return func(c echo.Context) error {
		sender := strings.TrimPrefix(strings.TrimSpace(c.FormValue("From")), "whatsapp:")
		body := c.FormValue("Body")

		log := s.log.WithFields(logrus.Fields{"channel": channel, "sender": sender})
		if sender == "" || strings.TrimSpace(body) == "" {
			log.Warn("webhook without sender or body")
			return echo.NewHTTPError(http.StatusBadRequest, "From and Body are required")
		}

		reply, err := s.handler.HandleInbound(c.Request().Context(), sender, body)
		switch {
		case errors.Is(err, service.ErrPersistence) && reply.Text != "":
			log.WithError(err).Error("reply sent but turn not fully persisted")
		case err != nil:
			log.WithError(err).Error("handle inbound message")
			return echo.NewHTTPError(http.StatusInternalServerError, "unable to process message")
		}
		return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, []byte(emptyTwiML))
	}
}

type chatRequest struct {
	Message string `json:"message" form:"message"`
	Sender  string `json:"sender,omitempty" form:"sender"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChatbot(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		sender = webSender
	}

	reply, err := s.handler.HandleInbound(c.Request().Context(), sender, req.Message, service.WithoutDelivery())
	switch {
	case errors.Is(err, service.ErrPersistence) && reply.Text != "":
		s.log.WithError(err).WithField("sender", sender).Error("reply produced but turn not fully persisted")
	case err != nil:
		s.log.WithError(err).WithField("sender", sender).Error("handle chatbot message")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to process message"})
	}
	return c.JSON(http.StatusOK, chatResponse{Response: reply.Text})
}
