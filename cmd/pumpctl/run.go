package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/baldanca/queue-pump/archive"
	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/config"
	"github.com/baldanca/queue-pump/host"
	"github.com/baldanca/queue-pump/logging"
	"github.com/baldanca/queue-pump/metrics"
	"github.com/baldanca/queue-pump/pump"
)

var runMemory bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run every configured pump until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPumps(cmd.Context(), runMemory)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runMemory, "memory", false, "use an in-process queue instead of SQS")
}

func runPumps(ctx context.Context, memory bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Pumps) == 0 {
		return errors.New("no pumps configured")
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, nil)
	if err != nil {
		return err
	}

	client, err := queueClient(ctx, cfg, memory)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	obs, err := metrics.NewObserver(reg)
	if err != nil {
		return err
	}

	opts := []pump.Option{pump.WithLogger(log), pump.WithObserver(obs)}
	if cfg.Archive.Bucket != "" && !memory {
		arch, err := newArchiver(ctx, cfg, log)
		if err != nil {
			return err
		}
		opts = append(opts, pump.WithArchiver(arch))
	}
	factory := pump.NewFactory(client, opts...)

	toggles := make(map[string]*host.Toggle, len(cfg.Pumps))
	drivers := make([]host.Driver, 0, len(cfg.Pumps))
	for _, pc := range cfg.Pumps {
		pcfg, err := pc.PumpConfig()
		if err != nil {
			return err
		}
		p, err := pump.New[json.RawMessage](ctx, factory, pcfg, codec.JSON[json.RawMessage]{})
		if err != nil {
			return err
		}
		t := host.NewToggle(pc.IsEnabled())
		toggles[pc.Queue] = t
		drivers = append(drivers, host.ForPump(p, logHandler(log), t.Gate(), log))
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           adminMux(reg, toggles),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("admin server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.WithField("addr", cfg.Metrics.Listen).Info("serving /metrics and /pumps")
	}

	var wg sync.WaitGroup
	for _, d := range drivers {
		wg.Add(1)
		go func(d host.Driver) {
			defer wg.Done()
			_ = d.Run(ctx)
		}(d)
	}
	wg.Wait()
	return nil
}

func newArchiver(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*archive.Archiver, error) {
	awsCfg, err := loadAWS(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	sink := archive.NewS3Sink(newS3(awsCfg, cfg.AWS.Endpoint), cfg.Archive.Bucket, cfg.Archive.Prefix)
	return archive.New(sink, archive.WithCompression(cfg.Archive.Compression), archive.WithLogger(log))
}

// logHandler acknowledges every message after logging it.
func logHandler(log logrus.FieldLogger) pump.Handler[json.RawMessage] {
	return func(ctx context.Context, payload *json.RawMessage, mc *pump.MessageContext) error {
		size := 0
		if payload != nil {
			size = len(*payload)
		}
		entry := log.WithFields(logrus.Fields{
			"message_id": mc.ID(),
			"bytes":      size,
		})
		if n, ok := mc.RetryCount(); ok {
			entry = entry.WithField("retry_count", n)
		}
		if t, ok := mc.Attribute(codec.MessageTypeAttribute); ok {
			entry = entry.WithField("message_type", t)
		}
		entry.Info("message received")
		return nil
	}
}
