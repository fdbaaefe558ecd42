package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doctrail.org/internal/access"
	"doctrail.org/internal/config"
	"doctrail.org/internal/httpapi"
	"doctrail.org/internal/invite"
	"doctrail.org/internal/mail"
	"doctrail.org/internal/obs"
	"doctrail.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("DOCTRAIL_PG_DSN is required")
	}
	if cfg.TokenSecret == "" {
		log.Fatal("DOCTRAIL_TOKEN_SECRET is required")
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	identity, err := access.NewIdentity(store)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	ledger, err := access.NewLedger(store)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	engine, err := access.NewEngine(store)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	sessions, err := access.NewTokenSigner(cfg.TokenSecret, 0)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}
	inviteSigner, err := invite.NewTokenSigner(cfg.TokenSecret)
	if err != nil {
		log.Fatalf("invite signer: %v", err)
	}

	var mailer mail.Mailer
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}
	invites, err := invite.NewService(store, inviteSigner, mailer, cfg.BaseURL)
	if err != nil {
		log.Fatalf("invites: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, httpapi.Deps{
		Identity: identity,
		Ledger:   ledger,
		Engine:   engine,
		Sessions: sessions,
		Invites:  invites,
	})

	handler := httpapi.MaxBodyBytes(api.Handler(), 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting doctrail-api %s on %s", version, srv.Addr)

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
	_ = store.Close()
	log.Println("Stopped")
}
