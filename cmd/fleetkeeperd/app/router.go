package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"github.com/fleetkeeper/fleetkeeper/internal/service"
	"github.com/fleetkeeper/fleetkeeper/pkg/config"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/jwt"
)

// newRouter wires the read-only surface: /status, /peers, /peers/:id,
// /metrics, /stream/status, behind bearer-token scope middleware.
func newRouter(svc service.Service, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	_ = router.SetTrustedProxies(nil)

	router.Use(cors.Default())
	pprof.Register(router)

	p := ginprometheus.NewPrometheus("fleetkeeper")
	p.Use(router)

	router.GET("/livez", func(c *gin.Context) { c.String(200, "livez") })
	router.GET("/readyz", func(c *gin.Context) { c.String(200, "readyz") })

	h := &handlers{svc: svc, cfg: cfg}

	// Token exchange: a stored token's (name, secret) pair buys a JWT.
	router.POST("/auth/token", h.issueToken)

	read := router.Group("/", BearerAuth(cfg, jwt.ScopeRead))
	{
		read.GET("/status", RequirePermission("status", "view"), h.status)
		read.GET("/peers", RequirePermission("peers", "view"), h.peers)
		read.GET("/peers/:id", RequirePermission("peers", "view"), h.peer)
		read.GET("/stream/status", RequirePermission("status", "view"), h.streamStatus)
	}

	return router
}
