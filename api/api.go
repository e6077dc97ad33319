package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"nchat/server"
)

// API is the admin HTTP surface: operational status and remote shutdown.
// It listens on its own address, separate from the chat port.
type API struct {
	srv  *server.Server
	log  zerolog.Logger
	http *http.Server
}

func New(addr string, srv *server.Server, log zerolog.Logger) *API {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	a := &API{
		srv: srv,
		log: log,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.GET("/api/status", a.status)
	router.POST("/api/shutdown", a.shutdown)

	return a
}

func (a *API) status(c *gin.Context) {
	c.JSON(http.StatusOK, a.srv.Stats())
}

func (a *API) shutdown(c *gin.Context) {
	a.log.Info().Str("remote", c.ClientIP()).Msg("shutdown requested over admin api")
	go a.srv.Shutdown()
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down"})
}

// Run serves until Shutdown. Returns nil on clean shutdown.
func (a *API) Run() error {
	a.log.Info().Str("addr", a.http.Addr).Msg("admin api listening")
	err := a.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.http.Shutdown(ctx)
}
