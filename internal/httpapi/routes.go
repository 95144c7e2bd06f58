package httpapi

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pricewatch/internal/currency"
	"pricewatch/internal/domain"
	"pricewatch/internal/notifier"
	"pricewatch/internal/pricesource"
	"pricewatch/internal/storage"
	"pricewatch/internal/task/scheduler"
	logx "pricewatch/pkg/logx"
)

// Scheduler is the job control surface the API needs.
type Scheduler interface {
	RunNow(name string) error
	Snapshot() scheduler.Snapshot
}

// Rates converts prices and reports the current exchange rates.
type Rates interface {
	Convert(amount decimal.Decimal) domain.Amounts
	Rates() currency.Snapshot
}

type Deliveries interface {
	Snapshot() []notifier.HistoryItem
}

type Deps struct {
	Store      storage.Store
	Quotes     pricesource.Source
	Rates      Rates
	Scheduler  Scheduler
	Deliveries Deliveries // optional
	Clock      domain.Clock
	// CheckJob is the scheduler job triggered by POST /api/admin/check.
	CheckJob string
	// Extra contributes additional sections to /api/status.
	Extra func() map[string]any
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.CheckJob == "" {
		d.CheckJob = "price_check"
	}
}

var ginModeOnce sync.Once

func newRouter(cfg Config, deps Deps, log logx.Logger) *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	deps.defaults()

	r := gin.New()
	r.Use(gin.Recovery(), requestLog(log))
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		r.Use(bearerAuth(tok))
	}

	h := &handlers{deps: deps, log: log}
	api := r.Group("/api")
	{
		api.GET("/health", h.health)
		api.HEAD("/health", h.health)
		api.GET("/status", h.status)

		api.PUT("/users/:id", h.upsertUser)
		api.GET("/users/:id", h.getUser)
		api.PATCH("/users/:id/settings", h.updateSettings)
		api.GET("/users/:id/items", h.listItems)
		api.POST("/users/:id/items", h.subscribe)
		api.DELETE("/users/:id/items/:item_id", h.unsubscribe)

		api.GET("/items/:id/history", h.history)
		api.GET("/items/:id/quote", h.quote)

		api.POST("/admin/check", h.triggerCheck)
	}

	if cfg.Pprof {
		dbg := r.Group("/debug/pprof")
		dbg.GET("/", gin.WrapF(hpprof.Index))
		dbg.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(hpprof.Profile))
		dbg.POST("/symbol", gin.WrapF(hpprof.Symbol))
		dbg.GET("/symbol", gin.WrapF(hpprof.Symbol))
		dbg.GET("/trace", gin.WrapF(hpprof.Trace))
		dbg.GET("/:profile", func(c *gin.Context) {
			hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := c.Query("token")
		if got == "" {
			const p = "Bearer "
			if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) {
				got = strings.TrimSpace(strings.TrimPrefix(ah, p))
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("http request failed", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}
