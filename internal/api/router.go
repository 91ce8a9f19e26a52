package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"flavorfind/internal/dsl"
	"flavorfind/internal/logging"
	"flavorfind/internal/metrics"
)

type RouterOptions struct {
	AllowedOrigins []string
	Info           InfoFunc
	Schemas        map[string]*dsl.Entity
	Metrics        *metrics.Metrics
	Log            *logrus.Logger
	// Mount registers the browser UI.
	Mount func(r *gin.Engine)
}

func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.Log != nil {
		r.Use(RequestLogger(logging.Component(opts.Log, "http")))
	}
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	var healthLog *logrus.Entry
	if opts.Log != nil {
		healthLog = logging.Component(opts.Log, "health")
	}
	cors := CORS(opts.AllowedOrigins)
	health := HealthHandler(opts.Info, healthLog)
	r.Any("/health", cors, health)

	apiGroup := r.Group("/api", cors)
	{
		apiGroup.Any("/health", health)
		if opts.Schemas != nil {
			apiGroup.GET("/meta", MetaListHandler(opts.Schemas))
			apiGroup.GET("/meta/:entity", MetaEntityHandler(opts.Schemas))
		}
	}

	if opts.Mount != nil {
		opts.Mount(r)
	}
	return r
}

// RunServer serves h on addr until ctx is cancelled, then drains for up to
// ten seconds.
func RunServer(ctx context.Context, addr string, h http.Handler, log *logrus.Entry) error {
	log = logging.OrDiscard(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
