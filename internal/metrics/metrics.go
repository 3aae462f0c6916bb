// Package metrics holds the Prometheus collectors for the realtime service.
// All collectors are registered on the default registry at init and are safe
// for concurrent use. Label values are drawn from small fixed sets.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cartpulse/cartpulse/internal/domain"
)

// Chat message outcomes.
const (
	ResultPersisted = "persisted"
	ResultFailed    = "failed"
	ResultRejected  = "rejected"
	ResultThrottled = "throttled"
)

// Price-drop targets.
const (
	TargetCart     = "cart"
	TargetWishlist = "wishlist"
)

var (
	// Connections gauges live websocket connections.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cartpulse_ws_connections",
		Help: "Current number of live websocket connections.",
	})

	// RoomJoins counts room joins by room kind (cart, user, adhoc).
	RoomJoins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartpulse_room_joins_total",
		Help: "Total room joins by room kind.",
	}, []string{"kind"})

	// Broadcasts counts hub broadcasts by event name.
	Broadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartpulse_broadcasts_total",
		Help: "Total room broadcasts by event.",
	}, []string{"event"})

	// DroppedSends counts frames dropped because a client's buffer was full.
	DroppedSends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cartpulse_ws_dropped_sends_total",
		Help: "Frames dropped for slow websocket clients.",
	})

	// ChatMessages counts chat sends by outcome.
	ChatMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartpulse_chat_messages_total",
		Help: "Chat messages by outcome.",
	}, []string{"result"})

	// PriceDrops counts price-drop notifications emitted by target kind.
	PriceDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartpulse_price_drop_notifications_total",
		Help: "Price-drop notifications emitted by target kind.",
	}, []string{"target"})

	// HistoryCache counts history page cache lookups by result (hit, miss).
	HistoryCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartpulse_history_cache_total",
		Help: "History page cache lookups by result.",
	}, []string{"result"})

	httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartpulse_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	httpLat = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cartpulse_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

func init() {
	prometheus.MustRegister(
		Connections, RoomJoins, Broadcasts, DroppedSends,
		ChatMessages, PriceDrops, HistoryCache,
		httpReqs, httpLat,
	)
}

// RoomKind classifies a room name for the RoomJoins label.
func RoomKind(room string) string {
	switch {
	case len(room) > len(domain.CartRoomPrefix) && strings.HasPrefix(room, domain.CartRoomPrefix):
		return "cart"
	case len(room) > len(domain.UserRoomPrefix) && strings.HasPrefix(room, domain.UserRoomPrefix):
		return "user"
	default:
		return "adhoc"
	}
}

// GinMiddleware instruments HTTP requests. The path label is the registered
// route, falling back to the raw path when nothing matched.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
