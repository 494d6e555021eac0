package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/bot"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/data"
	"github.com/daohub-labs/consensusbot/src/webserver"
)

// connect prefers MySQL and falls back to an embedded SQLite file for small
// single-host deployments.
func connect() *gorm.DB {
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return data.MustMySQL(dsn)
	}
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	path := filepath.Join(dataDir, "consensusbot.db")
	db, err := data.ConnectSQLite(path)
	if err != nil {
		log.Fatalf("sqlite: %v", err)
	}
	log.Printf("Using embedded SQLite database at %s", path)
	return db
}

func main() {
	db := connect()
	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	cfg := config.Load(db)
	if cfg.Token == "" {
		log.Fatal("discord token is not configured")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb = data.MustRedis(cfg.RedisURL)
	}

	b, err := bot.New(cfg, db, rdb)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}
	if err := b.Start(); err != nil {
		log.Fatalf("bot start: %v", err)
	}

	router := webserver.New(cfg, db, b.Ledger())
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()
	log.Printf("Consensus bot API listening on %s", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down")
	b.Stop()

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}
