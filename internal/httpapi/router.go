package httpapi

import (
	"net/http"
	hpprof "net/http/pprof"

	"github.com/gin-gonic/gin"

	logx "worksrelay/pkg/logx"
)

// NewRouter wires gin routes and middleware. debug is read on every /debug
// request so hot-reloaded settings apply without a restart.
func NewRouter(deps Deps, debug func() DebugConfig) *gin.Engine {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "http"))
	if debug == nil {
		debug = func() DebugConfig { return DebugConfig{} }
	}
	h := &handlers{deps: deps, log: log}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))

	r.GET("/health", h.health)
	r.POST("/notify", h.notify)
	r.POST("/notify/task-created", h.taskCreated)

	dbg := r.Group("/debug", debugGate(debug))
	{
		dbg.GET("/status", h.status)
		dbg.GET("/deliveries", h.deliveries)
		dbg.POST("/reminders/:name", h.runReminder)

		pp := dbg.Group("/pprof")
		pp.GET("/", gin.WrapF(hpprof.Index))
		pp.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		pp.GET("/profile", gin.WrapF(hpprof.Profile))
		pp.GET("/symbol", gin.WrapF(hpprof.Symbol))
		pp.POST("/symbol", gin.WrapF(hpprof.Symbol))
		pp.GET("/trace", gin.WrapF(hpprof.Trace))
		pp.GET("/:profile", func(c *gin.Context) {
			hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
		})
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	})
	return r
}
