// Command requeuer runs the Requeuer: a periodic scan of the store for
// overdue PENDING tasks, re-notifying each one so a lost or
// never-delivered notification doesn't leave a task stranded
// indefinitely.
package main

import (
	"context"
	"os/signal"
	"syscall"

	redisclient "github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/ntorque/internal/config"
	redisnotifier "github.com/guido-cesarano/ntorque/internal/notifier/redis"
	"github.com/guido-cesarano/ntorque/internal/requeue"
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
		log.Fatal().Err(err).Msg("requeuer: open store")
	}
	defer db.Close()

	dueFactory := due.NewFactory(due.LoadConfig())
	st := postgres.New(db, dueFactory, log)
	defer st.Close()

	requeueCfg := config.LoadRequeue(notifierCfg)
	requeuer := requeue.New(st, ntf, requeue.Config{
		Interval:  requeueCfg.Interval,
		Limit:     requeueCfg.Limit,
		PushDelay: requeueCfg.PushDelay,
		Channel:   requeueCfg.Channel,
	}, log)

	log.Info().Dur("interval", requeueCfg.Interval).Int("limit", requeueCfg.Limit).Msg("requeuer: polling")
	requeuer.Run(ctx)
}
