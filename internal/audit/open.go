package audit

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/KafClaw/wagate/internal/config"
)

// Open assembles the recorders enabled in cfg behind one Async queue.
// The returned close function drains the queue and releases backends.
func Open(cfg *config.Config, log zerolog.Logger) (Recorder, func(context.Context) error, error) {
	if !cfg.Audit.Enabled && !cfg.Kafka.Enabled && !cfg.Slack.Enabled {
		return Nop{}, func(context.Context) error { return nil }, nil
	}

	var (
		writers Multi
		closers []func() error
	)
	if cfg.Audit.Enabled {
		if err := config.EnsureDir(filepath.Dir(cfg.Audit.DBPath)); err != nil {
			return nil, nil, err
		}
		store, err := OpenStore(cfg.Audit.Driver, cfg.Audit.DBPath)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, store)
		closers = append(closers, store.Close)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		kw := NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		writers = append(writers, kw)
		closers = append(closers, kw.Close)
	}
	if cfg.Slack.Enabled && cfg.Slack.BotToken != "" && cfg.Slack.ChannelID != "" {
		writers = append(writers, NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.ChannelID, cfg.Slack.APIBase))
	}

	async := NewAsync(writers, cfg.Audit.QueueSize, log)
	closeAll := func(ctx context.Context) error {
		errs := []error{async.Close(ctx)}
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return async, closeAll, nil
}
