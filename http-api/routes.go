package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jayyu23/x402-zkid/logger"
	mcpserver "github.com/jayyu23/x402-zkid/mcp"
	"github.com/jayyu23/x402-zkid/metrics"
	"github.com/jayyu23/x402-zkid/x402"
)

const requestIDHeader = "X-Request-Id"

// Options wires the router. Gate is required; everything else is optional.
type Options struct {
	Gate    *x402.Gate
	Settler x402.Settler
	Logger  logger.Logger

	// Metrics is served at MetricsPath when set.
	Metrics     *metrics.PrometheusRecorder
	MetricsPath string

	// MCP is mounted at MCPPath when set.
	MCP     *mcpserver.Server
	MCPPath string

	// PublicURL prefixes discovery entries. When empty the request's own
	// scheme and host are used.
	PublicURL string
	StartedAt time.Time
}

type WeatherResponse struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	Conditions  string  `json:"conditions"`
	Unit        string  `json:"unit"`
}

type APIResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// NewRouter builds the gin engine. The payment middleware runs on every
// route; the registry decides which of them cost anything.
func NewRouter(opts Options) *gin.Engine {
	log := logger.OrNoop(opts.Logger).With(map[string]any{"component": "http"})
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(requestLogger(log))
	r.Use(gin.Recovery())
	r.Use(PaymentMiddleware(opts.Gate, opts.Settler, log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.Metrics.Handler()))
	}

	registerDiscoveryRoutes(r, opts)
	registerResourceRoutes(r)
	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id": c.GetString(requestIDHeader),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if d, ok := DecisionFrom(c); ok {
			fields["decision"] = d.Kind.String()
			if d.Reason != "" {
				fields["reason"] = string(d.Reason)
			}
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
			log.Error("request failed", fields)
			return
		}
		log.Info("request", fields)
	}
}

func registerDiscoveryRoutes(r *gin.Engine, opts Options) {
	r.GET("/discovery/x402", func(c *gin.Context) {
		base := opts.PublicURL
		if base == "" {
			base = requestBaseURL(c)
		}
		c.JSON(http.StatusOK, x402.Discover(opts.Gate.Registry(), base, opts.StartedAt))
	})

	if opts.MCP != nil {
		path := opts.MCPPath
		if path == "" {
			path = "/discovery/mcp"
		}
		r.Any(path, gin.WrapH(opts.MCP.Handler()))
	}
}

func registerResourceRoutes(r *gin.Engine) {
	r.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, APIResponse{
			Success: true,
			Message: "Payment accepted and verified",
			Data: map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			},
		})
	})

	// GET /weather?city=CityName - synthetic weather data
	r.GET("/weather", func(c *gin.Context) {
		city := c.Query("city")
		if city == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "city query param is required",
			})
			return
		}

		c.JSON(http.StatusOK, WeatherResponse{
			City:        city,
			Temperature: 71.2,
			Conditions:  "Partly cloudy",
			Unit:        "fahrenheit",
		})
	})
}
