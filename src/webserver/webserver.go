package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/bot/components/funding"
	"github.com/daohub-labs/consensusbot/src/config"
)

func New(cfg config.Config, db *gorm.DB, ledger *funding.Ledger) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, cfg, db, ledger)
	return g
}

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, ledger *funding.Ledger) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	historyH := NewHistory(db)
	fundingH := NewFunding(db)

	v1 := r.Group("/v1")
	{
		v1.GET("/history", historyH.List)
		v1.GET("/transactions", fundingH.Transactions)
		v1.GET("/balances", fundingH.Balances)
	}

	admin := v1.Group("/admin")
	admin.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
	{
		adminH := NewAdmin(ledger)
		admin.POST("/reset-balances", adminH.ResetBalances)
	}
}
