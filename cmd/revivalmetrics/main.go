// main.go - HTTP server application
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"revivalmetrics/app"
	"revivalmetrics/internal/seeder"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

func main() {
	seedDemo := flag.Bool("seed-demo", false, "seed demo traffic and exit (development only)")
	seedVisitors := flag.Int("seed-visitors", 200, "visitors to create with -seed-demo")
	seedDays := flag.Int("seed-days", 30, "days of history to create with -seed-demo")
	flag.Parse()

	application, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	log.Println("Running migrations and seeding...")
	if err := application.Bootstrap(); err != nil {
		log.Fatalf("Failed to bootstrap: %v", err)
	}
	log.Println("Bootstrap completed")

	if *seedDemo {
		if app.GetConfig().IsProduction() {
			log.Fatal("Refusing to seed demo data in production")
		}
		s := seeder.NewSeeder(application.DBManager, application.Logger(), *seedVisitors, *seedDays)
		if err := s.Seed(context.Background()); err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
		log.Println("Demo data seeded")
		return
	}

	log.Println("Starting application...")
	if err := application.StartAsync(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	log.Println("Application started successfully")

	waitForShutdownSignal(application)
}

// waitForShutdownSignal sets up signal handling and performs graceful shutdown
func waitForShutdownSignal(application *app.Application) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	log.Println("Initiating graceful shutdown...")
	if err := application.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	log.Println("Server shutdown complete")
}
