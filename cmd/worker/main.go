// Command worker runs the Consumer and Performer: it blocks on the
// Redis notification list, claims the named task and performs its
// outbound HTTP delivery, retrying or failing per internal/perform's
// response classification. Prometheus metrics are exposed on
// :8082/metrics.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/ntorque/internal/config"
	"github.com/guido-cesarano/ntorque/internal/consume"
	"github.com/guido-cesarano/ntorque/internal/notifier"
	redisnotifier "github.com/guido-cesarano/ntorque/internal/notifier/redis"
	"github.com/guido-cesarano/ntorque/internal/perform"
	"github.com/guido-cesarano/ntorque/internal/store/postgres"
	"github.com/guido-cesarano/ntorque/pkg/due"
	"github.com/guido-cesarano/ntorque/pkg/logger"
)

// Prometheus metrics for webhook delivery: every task performs the same
// kind of outbound HTTP call, so tasksProcessed/taskDuration are
// labelled by whether the claim-and-deliver cycle returned an error
// ("ok" or "error") rather than by task type.
var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ntorque_worker_deliveries_total",
		Help: "The total number of task deliveries attempted",
	}, []string{"result"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ntorque_worker_delivery_duration_seconds",
		Help:    "Duration of a claim-and-deliver cycle",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	notificationDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ntorque_worker_notification_depth",
		Help: "Number of pending notifications per channel",
	}, []string{"channel"})
)

// meteredPerformer wraps a *perform.Performer so the worker loop's
// timing and success/failure counts reach Prometheus without internal/perform
// needing to know about metrics.
type meteredPerformer struct {
	inner *perform.Performer
}

func (m meteredPerformer) Perform(ctx context.Context, instr notifier.Instruction) error {
	start := time.Now()
	err := m.inner.Perform(ctx, instr)

	result := "ok"
	if err != nil {
		result = "error"
	}
	tasksProcessed.WithLabelValues(result).Inc()
	taskDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}

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
		log.Fatal().Err(err).Msg("worker: open store")
	}
	defer db.Close()

	dueFactory := due.NewFactory(due.LoadConfig())
	st := postgres.New(db, dueFactory, log)
	defer st.Close()

	performCfg := config.LoadPerform(dueFactory.Config)
	performer := perform.New(st, &http.Client{Timeout: 60 * time.Second}, perform.Config{
		TransientCodes: performCfg.TransientCodes,
		MaxRetries:     performCfg.MaxRetries,
	}, log)

	consumeCfg := config.LoadConsume(notifierCfg)
	consumer := consume.New(ntf, meteredPerformer{inner: performer}, consume.Config{
		Channels:       consumeCfg.Channels,
		ConsumeDelay:   consumeCfg.ConsumeDelay,
		ConsumeTimeout: consumeCfg.ConsumeTimeout,
	}, log)

	metricsAddr := os.Getenv("NTORQUE_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":8082"
	}
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("worker: metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("worker: metrics server")
		}
	}()

	go collectNotificationDepth(ctx, ntf, consumeCfg.Channels)

	log.Info().Strs("channels", consumeCfg.Channels).Msg("worker: consuming")
	consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)
}

// collectNotificationDepth periodically samples the length of every
// consumed channel so operators can see backlog building up ahead of a
// slow remote endpoint.
func collectNotificationDepth(ctx context.Context, n notifier.Notifier, channels []string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, channel := range channels {
				depth, err := n.Length(ctx, channel)
				if err != nil {
					continue
				}
				notificationDepth.WithLabelValues(channel).Set(float64(depth))
			}
		}
	}
}
