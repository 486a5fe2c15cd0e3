// Command create_application is an operator console script: it creates
// a named application and prints the API key generated for it, since
// there is no HTTP endpoint for application provisioning.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/guido-cesarano/ntorque/internal/config"
	"github.com/guido-cesarano/ntorque/internal/store/postgres"
	"github.com/guido-cesarano/ntorque/pkg/due"
	"github.com/guido-cesarano/ntorque/pkg/logger"
)

func main() {
	name := flag.String("name", "", "name of the application to create")
	flag.Parse()
	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: create_application -name <name>")
		os.Exit(2)
	}

	log := logger.GetLogger()
	ctx := context.Background()

	storeCfg := config.LoadStore()
	db, err := postgres.Open(ctx, storeCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create_application: open store")
	}
	defer db.Close()

	dueFactory := due.NewFactory(due.LoadConfig())
	st := postgres.New(db, dueFactory, log)
	defer st.Close()

	app, err := st.CreateApplication(ctx, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("create_application: create")
	}

	keys, err := st.LookupActiveKeyValues(ctx, app.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("create_application: lookup key")
	}
	if len(keys) == 0 {
		log.Fatal().Int64("app_id", app.ID).Msg("create_application: no active key")
	}

	fmt.Printf("Created application %q (id=%d) with API key: %s\n", app.Name, app.ID, keys[0])
}
