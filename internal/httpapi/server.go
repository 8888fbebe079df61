// Package httpapi exposes the events held by a subscription engine over a
// read-only JSON API
package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events/events"
)

// Querier is the part of the engine the API reads from
type Querier interface {
	Get(uid string) (events.Event, bool)
	GetByPlatform(platform string) []events.Event
	DistinctUIDsByPlatform(platform string) map[string]struct{}
	Events() []events.Event
	State() events.State
}

type handlers struct {
	q Querier
}

// NewRouter builds the gin engine serving the API. Requests are logged to
// logger at debug level; a nil logger disables request logging.
func NewRouter(q Querier, logger *zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if logger != nil {
		router.Use(requestLogger(logger))
	}

	h := &handlers{q: q}
	router.GET("/healthz", h.health)
	router.GET("/events", h.listEvents)
	// Uids embed the topic path, so they are matched with a catch-all
	router.GET("/events/*uid", h.getEvent)
	router.GET("/platforms/:platform/uids", h.listUIDs)

	return router
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.q.State().String()})
}

func (h *handlers) listEvents(c *gin.Context) {
	var list []events.Event
	if platform := c.Query("platform"); platform != "" {
		list = h.q.GetByPlatform(platform)
	} else {
		list = h.q.Events()
	}
	if list == nil {
		list = []events.Event{}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UID < list[j].UID })
	c.JSON(http.StatusOK, list)
}

func (h *handlers) getEvent(c *gin.Context) {
	uid := strings.TrimPrefix(c.Param("uid"), "/")
	event, ok := h.q.Get(uid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found", "uid": uid})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *handlers) listUIDs(c *gin.Context) {
	set := h.q.DistinctUIDsByPlatform(c.Param("platform"))
	uids := make([]string, 0, len(set))
	for uid := range set {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	c.JSON(http.StatusOK, uids)
}

func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("HTTP request")
	}
}
