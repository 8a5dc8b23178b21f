// Package web serves the session state over http.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/leighmacdonald/scorebot/internal/config"
	"github.com/leighmacdonald/scorebot/internal/session"
	"github.com/leighmacdonald/scorebot/pkg/scorebot"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Source is the session state exposed over http.
type Source interface {
	Snapshot() session.Status
	Recent() []scorebot.Event
	Send(ctx context.Context, command string) error
}

type Web struct {
	*http.Server
	Engine *gin.Engine
	log    *zap.Logger
}

func New(logger *zap.Logger, mode config.RunMode, listenAddr string, source Source) *Web {
	log := logger.Named("web")
	engine := createRouter(log, mode)
	setupRoutes(engine, source)

	return &Web{
		Server: &http.Server{
			Addr:              listenAddr,
			Handler:           engine,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Engine: engine,
		log:    log,
	}
}

// Start serves until Stop is called.
func (w *Web) Start(ctx context.Context) error {
	w.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	w.log.Info("Service status changed", zap.String("state", "ready"), zap.String("addr", w.Addr))
	defer w.log.Info("Service status changed", zap.String("state", "stopped"))

	if errServe := w.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errors.Wrap(errServe, "HTTP server returned error")
	}

	return nil
}

func (w *Web) Stop(ctx context.Context) error {
	timeout, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	if errShutdown := w.Shutdown(timeout); errShutdown != nil {
		return errors.Wrap(errShutdown, "Failed to shutdown http service")
	}

	return nil
}

func createRouter(logger *zap.Logger, mode config.RunMode) *gin.Engine {
	switch mode {
	case config.ModeRelease:
		gin.SetMode(gin.ReleaseMode)
	case config.ModeTest:
		gin.SetMode(gin.TestMode)
	case config.ModeDebug:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(ginzap.GinzapWithConfig(logger, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/status"},
	}))
	engine.Use(ginzap.RecoveryWithZap(logger, true))

	_ = engine.SetTrustedProxies(nil)

	return engine
}

func setupRoutes(engine *gin.Engine, source Source) {
	engine.GET("/status", getStatus(source))
	engine.GET("/events", getEvents(source))
	engine.POST("/command", postCommand(source))
}

func bind(ctx *gin.Context, receiver any) bool {
	if errBind := ctx.BindJSON(receiver); errBind != nil {
		responseErr(ctx, http.StatusBadRequest, gin.H{
			"error": "Invalid request parameters",
		})

		return false
	}

	return true
}

func responseErr(ctx *gin.Context, status int, data any) {
	ctx.JSON(status, data)
}

func responseOK(ctx *gin.Context, status int, data any) {
	ctx.JSON(status, data)
}
