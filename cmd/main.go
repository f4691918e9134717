package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/markjakearzadon/assetvault-gobackend/internal/auth"
	"github.com/markjakearzadon/assetvault-gobackend/internal/cloud"
	"github.com/markjakearzadon/assetvault-gobackend/internal/config"
	"github.com/markjakearzadon/assetvault-gobackend/internal/db"
	"github.com/markjakearzadon/assetvault-gobackend/internal/gateway"
	"github.com/markjakearzadon/assetvault-gobackend/internal/handlers"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/queue"
	"github.com/markjakearzadon/assetvault-gobackend/internal/services"
	"github.com/markjakearzadon/assetvault-gobackend/internal/storage"
	"github.com/markjakearzadon/assetvault-gobackend/internal/webhook"
)

type gatewayStack struct {
	orders   gateway.OrderGateway
	capturer gateway.Capturer
	payouts  gateway.PayoutClient
	parser   webhook.Parser
	verifier webhook.Verifier
}

func newGatewayStack(cfg *config.Config, log *slog.Logger) gatewayStack {
	live := cfg.Env == config.EnvLive
	if cfg.Gateway == "paypal" {
		pp := gateway.NewPayPalService(gateway.PayPalOptions{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Live:         live,
			Timeout:      cfg.GatewayTimeout,
		}, log)
		return gatewayStack{
			orders:   pp,
			capturer: pp,
			payouts:  pp,
			parser:   webhook.PayPalParser{},
			verifier: webhook.PayPalVerifier{Checker: pp, WebhookID: cfg.PayPal.WebhookID},
		}
	}

	x := gateway.NewXenditService(gateway.XenditOptions{
		SecretKey: cfg.Xendit.SecretKey,
		BaseURL:   cfg.Xendit.BaseURL,
		Live:      live,
		Timeout:   cfg.GatewayTimeout,
	}, log)
	return gatewayStack{
		orders:  x,
		payouts: x,
		parser:  webhook.XenditParser{},
		verifier: webhook.TokenVerifier{
			CallbackToken: cfg.Xendit.WebhookToken,
			SigningSecret: cfg.WebhookSigningSecret,
		},
	}
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := godotenv.Load(".env"); err != nil {
		log.Warn("Error loading .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.Connect(ctx, cfg.MongoURI, log)
	if err != nil {
		log.Error("MongoDB unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Disconnect(client, log)
	database := client.Database(cfg.MongoDB)

	store := ledger.NewMongoStore(database, log)
	userService := services.NewUserService(database, log)
	assetService := services.NewAssetService(database, log)
	if err := db.EnsureIndexes(ctx, store, userService); err != nil {
		log.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	awsCfg, err := cloud.LoadAWSConfig(ctx, cloud.Credentials{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, log)
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	if cfg.S3Bucket == "" {
		log.Warn("S3_BUCKET not set, downloads are disabled")
	}
	signer := storage.NewS3Signer(awsCfg, cfg.S3Bucket, cfg.DownloadURLTTL, log)

	gw := newGatewayStack(cfg, log)
	log.Info("Payment gateway selected", "gateway", gw.orders.Name(), "env", cfg.Env)

	payoutService := services.NewPayoutService(store, userService, gw.payouts, log)
	var workers sync.WaitGroup
	var dispatcher queue.Dispatcher
	if cfg.PayoutQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg)
		dispatcher = queue.NewSQS(sqsClient, cfg.PayoutQueueURL, log)
		consumer := queue.NewConsumer(sqsClient, cfg.PayoutQueueURL, payoutService.Handle, services.PayoutRetryable, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			consumer.Run(ctx)
		}()
	} else {
		dispatcher = queue.NewInline(payoutService.Handle, log)
	}

	orderService := services.NewOrderService(store, assetService, userService, gw.orders, services.OrderOptions{
		CommissionRate: cfg.CommissionRate,
		Currency:       cfg.Currency,
		PublicBaseURL:  cfg.PublicBaseURL,
		PendingTTL:     cfg.PendingTTL,
	}, log)
	reconciler := services.NewReconciler(store, store, gw.parser, gw.capturer, dispatcher, log)
	accessService := services.NewAccessService(store, assetService, signer, cfg.Currency, log)
	refundService := services.NewRefundService(store, log)

	sweeper := services.NewSweeper(store, gw.orders, reconciler, cfg.PendingTTL, cfg.SweepInterval, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		sweeper.Run(ctx)
	}()

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	router := handlers.Router{
		Users:          handlers.NewUserHandler(userService, tokens, log),
		Files:          handlers.NewFileHandler(assetService, accessService, log),
		Payments:       handlers.NewPaymentHandler(orderService, refundService, store, log),
		Webhooks:       handlers.NewWebhookHandler(gw.verifier, reconciler, log),
		Auth:           handlers.NewAuthenticator(tokens),
		WebhookLimiter: handlers.NewRateLimiter(cfg.WebhookRateRPS, cfg.WebhookRateBurst, cfg.TrustedProxies),
		PublicLimiter:  handlers.NewRateLimiter(cfg.WebhookRateRPS, cfg.WebhookRateBurst, cfg.TrustedProxies),
		Log:            log,
	}

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Order creation waits on the gateway, including retries.
		WriteTimeout: 3*cfg.GatewayTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server running", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
	workers.Wait()
}
