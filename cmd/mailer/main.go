// Command mailer drains the AMQP email queue and delivers through SMTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/config"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/mail"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/utilities"
)

func main() {
	_ = godotenv.Load()

	configPath := pflag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg, err := utilities.Init(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar().Named("mailer")

	if cfg.AMQP.URL == "" {
		sugar.Fatal("AMQP_URL is required")
	}
	if !cfg.SMTP.Enabled() {
		sugar.Fatal("SMTP_HOST is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := mail.DialAMQP(cfg.AMQP.URL, cfg.AMQP.EmailQueue)
	if err != nil {
		sugar.Fatalf("amqp: %v", err)
	}
	defer queue.Close()

	sender := mail.NewRetryingSender(mail.NewTransporter(cfg.Transport(), sugar), cfg.Retry(), sugar)
	sugar.Infow("consuming email queue", "queue", cfg.AMQP.EmailQueue, "smtp", cfg.SMTP.Host)
	if err := queue.Consume(ctx, sender, sugar); err != nil {
		sugar.Errorw("consumer stopped", "err", err)
		return
	}
	sugar.Info("goodbye")
}
