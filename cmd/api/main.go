package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openbackpack.org/internal/badge"
	"openbackpack.org/internal/bakery"
	"openbackpack.org/internal/config"
	"openbackpack.org/internal/export"
	"openbackpack.org/internal/httpapi"
	"openbackpack.org/internal/mailer"
	"openbackpack.org/internal/obs"
	"openbackpack.org/internal/store"
	"openbackpack.org/internal/store/pg"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("BACKPACK_COMMIT"))

	cfg := config.FromEnv()

	var (
		docs  store.Store
		probe httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("ensure schema: %v", err)
		}
		cancel()
		defer pgStore.Close()
		docs = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("BACKPACK_PG_DSN not set; using in-memory store (demo mode)")
		docs = store.NewInMemory()
	}

	svc := badge.New(docs, badge.Options{
		EnvPrefix: cfg.EnvPrefix,
		BaseURL:   cfg.PublicBaseURL,
		History:   cfg.History,
	})

	var backpack httpapi.BackpackBuilder
	if cfg.RendererURL != "" {
		backpack = export.NewExporter(svc, export.Options{
			Baker:    bakery.NewClient(cfg.HTTPTimeout),
			Renderer: export.NewRenderer(cfg.RendererURL, 2*time.Minute),
			CoverURL: cfg.CoverPDFURL,
		})
	} else {
		log.Println("BACKPACK_RENDERER_URL not set; backpack export disabled")
	}

	var mail *mailer.Mailer
	if cfg.MailURL != "" {
		var err error
		mail, err = mailer.New(mailer.Config{
			BaseURL: cfg.MailURL,
			APIKey:  cfg.MailKey,
			From:    cfg.MailFrom,
			Timeout: cfg.HTTPTimeout,
		})
		if err != nil {
			log.Fatalf("mailer: %v", err)
		}
	} else {
		log.Println("BACKPACK_MAIL_URL not set; award emails disabled")
	}

	api := httpapi.New(probe, version, svc, backpack, mail, cfg.PublicBaseURL)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute, // backpack exports render remotely
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting backpack-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
