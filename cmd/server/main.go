// Command server runs the HTTP ingress for the task queue: the enqueue,
// task status and push endpoints. It wires internal/store/postgres,
// internal/notifier/redis and internal/intake behind internal/api, and
// listens on :8081.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisclient "github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/ntorque/internal/api"
	"github.com/guido-cesarano/ntorque/internal/api/auth"
	"github.com/guido-cesarano/ntorque/internal/config"
	"github.com/guido-cesarano/ntorque/internal/intake"
	redisnotifier "github.com/guido-cesarano/ntorque/internal/notifier/redis"
	"github.com/guido-cesarano/ntorque/internal/store/postgres"
	"github.com/guido-cesarano/ntorque/pkg/due"
	"github.com/guido-cesarano/ntorque/pkg/logger"
)

func main() {
	log := logger.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifierCfg := config.LoadNotifier()
	rdb := redisclient.NewClient(&redisclient.Options{Addr: notifierCfg.Addr})
	defer rdb.Close()
	ntf := redisnotifier.NewFromClient(rdb)

	storeCfg := config.LoadStore()
	db, err := postgres.Open(ctx, storeCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("server: open store")
	}
	defer db.Close()

	dueFactory := due.NewFactory(due.LoadConfig())
	st := postgres.New(db, dueFactory, log)
	defer st.Close()

	intakeCfg := config.LoadIntake(notifierCfg)
	in := intake.New(st, ntf, intakeCfg.Channel, intake.Config{
		DefaultTimeout: intakeCfg.DefaultTimeout,
		HeaderPrefix:   intakeCfg.HeaderPrefix,
	})
	authenticator := auth.New(st, intakeCfg.Authenticate)
	a := api.New(in, st, authenticator, log)

	addr := os.Getenv("NTORQUE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(a, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if authenticator.Enabled {
		log.Info().Msg("server: api key authentication enabled")
	} else {
		log.Warn().Msg("server: api key authentication disabled")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server: shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("server: listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server: serve")
	}
}
