// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mediaload"
	"mediaload/internal/config"
	"mediaload/internal/dataloader/api"
	"mediaload/internal/dataloader/core"
	"mediaload/internal/dataloader/telemetry"
	"mediaload/internal/logging"
	"mediaload/internal/sinks"
)

type runOptions struct {
	epochs     int
	maxBatches int
	manifest   string
	modality   string
	sourcePath string
	batchSize  int
	shards     int
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the configured dataset for a number of epochs",
		Long: `Load the configured dataset for a number of epochs and print a summary.

Flags override MEDIALOAD_* environment variables, which override the
config file.

Examples:
  # Two epochs over a directory of images
  loader-bench run --source-path /data/images --epochs 2

  # Config file plus a manifest of every delivered batch
  loader-bench run --config bench.yaml --manifest batches.jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadUnvalidated(configPath)
			if err != nil {
				return err
			}
			o.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "invalid config")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBench(ctx, cfg, o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.epochs, "epochs", 1, "Number of epochs to run")
	f.IntVar(&o.maxBatches, "max-batches", 0, "Stop an epoch after this many batches (0 = until the epoch ends)")
	f.StringVar(&o.manifest, "manifest", "", "Append a JSONL record of every delivered batch to this file")
	f.StringVar(&o.modality, "modality", "", "Override loader.modality")
	f.StringVar(&o.sourcePath, "source-path", "", "Override source.path")
	f.IntVar(&o.batchSize, "batch-size", 0, "Override loader.batch_size")
	f.IntVar(&o.shards, "shards", 0, "Override loader.shards")
	return cmd
}

func (o runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("modality") {
		cfg.Loader.Modality = o.modality
	}
	if f.Changed("source-path") {
		cfg.Source.Path = o.sourcePath
	}
	if f.Changed("batch-size") {
		cfg.Loader.BatchSize = o.batchSize
	}
	if f.Changed("shards") {
		cfg.Loader.Shards = o.shards
	}
}

func recordSettings(cfg *config.Config, o runOptions) {
	core.SetSetting("modality", cfg.Loader.Modality)
	core.SetSetting("source", cfg.Source.Type)
	core.SetSetting("memory", cfg.Loader.Memory)
	core.SetSettingInt("batch_size", int64(cfg.Loader.BatchSize))
	core.SetSettingInt("shards", int64(cfg.Loader.Shards))
	core.SetSettingInt("prefetch", int64(cfg.Loader.Prefetch))
	core.SetSettingInt("decode_threads", int64(cfg.Loader.DecodeThreads))
	core.SetSettingInt("epochs", int64(o.epochs))
	core.SetSettingBool("loop", cfg.Loader.Loop)
	core.SetSettingBool("shuffle", cfg.Loader.Shuffle)
	core.SetSettingDuration("retry_delay", cfg.Loader.RetryDelay)
}

// runBench loads o.epochs epochs and writes the run summary to out. It
// returns early, without error, when ctx is cancelled.
func runBench(ctx context.Context, cfg *config.Config, o runOptions, out io.Writer) error {
	if err := logging.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logging.Sync() }()
	log := logging.Named("bench")

	telemetry.Enable(cfg.Metrics)
	defer telemetry.Enable(telemetry.Config{})
	recordSettings(cfg, o)

	m, _, err := mediaload.FromConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "building loader")
	}
	defer m.ShutDown()

	var manifest *sinks.ManifestFileSink
	if o.manifest != "" {
		if manifest, err = sinks.NewManifestFileSink(o.manifest); err != nil {
			return err
		}
		defer manifest.Close()
	}

	srv := api.NewServer(m)
	if cfg.HTTP.Enabled {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			err := srv.ListenAndServe(srvCtx, api.Config{
				Addr:            cfg.HTTP.Addr,
				ReadTimeout:     cfg.HTTP.ReadTimeout,
				WriteTimeout:    cfg.HTTP.WriteTimeout,
				ShutdownTimeout: cfg.ShutdownTimeout,
				Metrics:         cfg.Metrics.Enabled && cfg.Metrics.MetricsAddr == "",
			})
			if err != nil {
				log.Error("stats server stopped", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	if err := m.StartLoading(); err != nil {
		return err
	}
	// A signal unblocks a consumer waiting in LoadNext.
	defer context.AfterFunc(ctx, m.ShutDown)()
	start := time.Now()
	for epoch := 0; epoch < o.epochs && ctx.Err() == nil; epoch++ {
		srv.SetEpoch(int64(epoch))
		if epoch > 0 {
			if err := m.Reset(); err != nil {
				if ctx.Err() != nil {
					break
				}
				return errors.Wrapf(err, "resetting for epoch %d", epoch)
			}
		}
		n, err := runEpoch(m, int64(epoch), o.maxBatches, manifest)
		if err != nil {
			return err
		}
		log.Info("epoch done", zap.Int(logging.KeyEpoch, epoch), zap.Int64("batches", n))
	}
	elapsed := time.Since(start)
	if manifest != nil {
		if err := manifest.Flush(); err != nil {
			return err
		}
	}
	core.WriteSummary(out, elapsed)
	return nil
}

// runEpoch pulls batches until the epoch ends, maxBatches is reached or the
// module is shut down.
func runEpoch(m mediaload.Module, epoch int64, maxBatches int, manifest *sinks.ManifestFileSink) (int64, error) {
	var n int64
	for maxBatches <= 0 || n < int64(maxBatches) {
		switch st := m.LoadNext(); st {
		case mediaload.StatusOK:
		case mediaload.StatusNoMoreData, mediaload.StatusStopped:
			return n, nil
		default:
			return n, errors.Errorf("epoch %d batch %d: %v", epoch, n, st)
		}
		if manifest != nil {
			if err := manifest.OnBatch(sinks.RecordFromInfo(epoch, n, m.Info())); err != nil {
				return n, err
			}
		}
		n++
	}
	return n, nil
}
