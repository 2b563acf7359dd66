// Package httpapi implements the external HTTP admin surface named in
// spec.md §6: GET /fairness (list metrics) and POST /fairness/{host}/action
// (dispatch set_metric to a host).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nova-compute/fairnessd/pkg/metric"
	"github.com/nova-compute/fairnessd/pkg/transport"
)

// Server serves the fairness admin surface over HTTP via gin, the way
// original_source's api.py + rpcapi.py expose it over the (now
// out-of-scope) WSGI stack.
type Server struct {
	engine  *gin.Engine
	metrics *metric.Registry
	bus     transport.Bus
	log     *logrus.Entry
}

// New builds a Server. metrics is this host's own metric catalog (used to
// answer GET /fairness); bus is used to dispatch set_metric calls to the
// host named in the URL.
func New(metrics *metric.Registry, bus transport.Bus, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: gin.New(), metrics: metrics, bus: bus, log: log}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Engine exposes the underlying *gin.Engine so main.go can attach it to
// an http.Server / net.Listener.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/fairness", s.listMetrics)
	s.engine.POST("/fairness/:host/action", s.dispatchAction)
}

func (s *Server) listMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.List())
}

type setMetricAction struct {
	Name string `json:"name"`
}

type actionBody struct {
	SetMetric *setMetricAction `json:"set-metric"`
}

func (s *Server) dispatchAction(c *gin.Context) {
	host := c.Param("host")

	var body actionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.SetMetric == nil || body.SetMetric.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing set-metric.name"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	reply, err := s.bus.Call(ctx, host, "set_metric", body.SetMetric.Name)
	if err != nil {
		s.log.WithError(err).WithField("host", host).Warn("httpapi: set_metric dispatch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(reply))
}
