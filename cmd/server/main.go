package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"flavorfind/internal/api"
	"flavorfind/internal/app"
	"flavorfind/internal/config"
	"flavorfind/internal/logging"
	"flavorfind/internal/metrics"
	"flavorfind/internal/platform"
	"flavorfind/internal/web"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		logging.New("", "info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.Environment, cfg.LogLevel)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	p, err := platform.Open(ctx, cfg, m, log)
	if err != nil {
		log.WithError(err).Fatal("backend setup failed")
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("backend close failed")
		}
	}()

	throttle := app.NewThrottle(cfg.LoginRate, cfg.LoginBurst)
	gw := app.NewGateway(p.Backend, throttle, logging.Component(log, "auth"))
	sessions := web.NewRegistry(cfg.SessionTTL.Duration, m.SetSessions)
	ui, err := web.New(web.Options{
		Gateway:    gw,
		Sessions:   sessions,
		Throttle:   throttle,
		BackendURL: cfg.BackendURL,
		FanoutWait: cfg.FanoutWait.Duration,
		Log:        logging.Component(log, "web"),
	})
	if err != nil {
		log.WithError(err).Fatal("web setup failed")
	}
	go ui.Run(ctx, time.Minute)

	router := api.NewRouter(api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Info: func() (api.Info, error) {
			return api.Info{Environment: cfg.Environment, Port: cfg.Port}, nil
		},
		Schemas: p.Schemas,
		Metrics: m,
		Log:     log,
		Mount:   ui.Mount,
	})

	log.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"environment": cfg.Environment,
		"driver":      cfg.BackendDriver,
	}).Info("FlavorFind starting")
	if err := api.RunServer(ctx, cfg.Addr(), router, logging.Component(log, "http")); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
