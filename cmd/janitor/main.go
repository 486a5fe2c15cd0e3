// Command janitor runs a supplemental housekeeping process: a periodic
// sweep that deletes tasks past their retention window, keeping the
// tasks table from growing unbounded. Scheduling is driven by
// robfig/cron rather than a bare sleep loop.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/guido-cesarano/ntorque/internal/config"
	"github.com/guido-cesarano/ntorque/internal/store/postgres"
	"github.com/guido-cesarano/ntorque/pkg/due"
	"github.com/guido-cesarano/ntorque/pkg/logger"
)

func main() {
	log := logger.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeCfg := config.LoadStore()
	db, err := postgres.Open(ctx, storeCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("janitor: open store")
	}
	defer db.Close()

	dueFactory := due.NewFactory(due.LoadConfig())
	st := postgres.New(db, dueFactory, log)
	defer st.Close()

	janitorCfg := config.LoadJanitor()

	c := cron.New()
	_, err = c.AddFunc(janitorCfg.Spec, func() {
		n, err := st.DeleteTasksOlderThan(ctx, janitorCfg.After)
		if err != nil {
			log.Warn().Err(err).Msg("janitor: delete old tasks")
			return
		}
		log.Info().Int64("deleted", n).Msg("janitor: swept old tasks")
	})
	if err != nil {
		log.Fatal().Err(err).Str("spec", janitorCfg.Spec).Msg("janitor: invalid cron spec")
	}

	log.Info().Str("spec", janitorCfg.Spec).Dur("after", janitorCfg.After).Msg("janitor: scheduled")
	c.Start()

	<-ctx.Done()
	log.Info().Msg("janitor: shutting down")
	<-c.Stop().Done()
}
