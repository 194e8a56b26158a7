package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agencyflow/assignment"
	"agencyflow/auth"
	"agencyflow/db"
	"agencyflow/ledger"
	"agencyflow/notify"
	"agencyflow/operation"
	"agencyflow/request"
	"agencyflow/transaction"
	"agencyflow/validation"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	sink := notify.NewLogSink(log)

	authSvc := auth.NewService(auth.NewRepository(pool), jwtSecret)
	typeRepo := operation.NewRepository(pool)
	typeSvc := operation.NewService(typeRepo)
	outbox := ledger.NewOutbox()

	txnRepo := transaction.NewRepository(pool)
	txnSvc := transaction.NewService(pool, txnRepo, typeSvc, outbox)
	txnQueue := assignment.NewService[transaction.Transaction](txnRepo, "transaction").WithSink(sink)
	txnValidation := validation.NewTransactionService(pool, txnRepo, typeRepo, outbox).WithSink(sink)

	reqRepo := request.NewRepository(pool)
	reqSvc := request.NewService(reqRepo)
	reqQueue := assignment.NewService[request.Request](reqRepo, "request").WithSink(sink)
	reqValidation := validation.NewRequestService(pool, reqRepo).WithSink(sink)

	server := &Server{
		log:           log,
		authService:   authSvc,
		typeService:   typeSvc,
		txnService:    txnSvc,
		txnQueue:      txnQueue,
		txnValidation: txnValidation,
		reqService:    reqSvc,
		reqQueue:      reqQueue,
		reqValidation: reqValidation,
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("api listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if ledgerURL := os.Getenv("LEDGER_URL"); ledgerURL != "" {
		dispatcher := ledger.NewDispatcher(pool, ledger.NewHTTPSender(ledgerURL), log)
		group.Go(func() error {
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Warn("LEDGER_URL not set, ledger instructions stay queued")
	}

	if err := group.Wait(); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}
