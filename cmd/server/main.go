package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"netarena/internal/api"
	"netarena/internal/clock"
	"netarena/internal/config"
	"netarena/internal/journal"
	"netarena/internal/protocol"
	"netarena/internal/session"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	} else {
		log.Println("✅ Loaded environment from .env")
	}

	log.Println("🕹️ ================================")
	log.Println("🕹️  NETARENA - STATE SYNC SERVER")
	log.Println("🕹️ ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	simCfg := appConfig.Sim
	serverCfg := appConfig.Server

	log.Printf("🎮 Config: %d Hz, world %gx%g, speed %g/tick",
		simCfg.TickRate, simCfg.WorldWidth, simCfg.WorldHeight, simCfg.Speed)
	log.Printf("📶 Reliability: ack timeout %dms, %d retries, dedup cap %d",
		appConfig.Net.AckTimeoutMillis, appConfig.Net.MaxRetries, appConfig.Net.SeenCap)

	// Operational journal
	var jrnl *journal.Journal
	if appConfig.Journal.Enabled {
		jrnl = journal.New()
		if err := jrnl.Start(appConfig.Journal.FilePath); err != nil {
			log.Printf("⚠️ Journal disabled: %v", err)
			jrnl = nil
		} else {
			log.Printf("📝 Journal: %s", appConfig.Journal.FilePath)
		}
	}

	// Debug server (pprof + prometheus), localhost only
	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	// Session host over the authoritative engine
	source := clock.NewMonotonicSource()
	hostCfg := session.Config{
		TickRate: simCfg.TickRate,
		Reliable: appConfig.Net.Reliable(protocol.TypeServerAck),
	}
	host := session.NewHost(hostCfg, simCfg.World(), source, jrnl)

	server := api.NewServer(host, source, jrnl, simCfg.TickRate)

	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Shutdown: %v", err)
	}
	if jrnl != nil {
		jrnl.Stop()
	}
	log.Println("👋 Goodbye!")
}
