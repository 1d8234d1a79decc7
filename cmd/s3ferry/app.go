package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/pslog"
	"pkt.systems/s3ferry"
	"pkt.systems/s3ferry/internal/retry"
	"pkt.systems/s3ferry/internal/s3api"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("S3FERRY_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.WarnLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "s3ferry")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "s3ferry",
		Short:         "Chunked, parallel, optionally encrypted transfers to S3-compatible stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.String("endpoint", "", "S3 endpoint host (empty means AWS)")
	flags.String("region", "", "bucket region")
	flags.Bool("insecure", false, "use plain HTTP against the endpoint")
	flags.Bool("path-style", false, "address buckets as path segments (required by most non-AWS endpoints)")
	flags.String("key-dir", "", "RSA key-pair directory (default ~/.s3lib-keys)")
	flags.String("chunk-size", "5MiB", "transfer chunk size")
	flags.Int("http-concurrency", s3ferry.DefaultHTTPConcurrency, "maximum simultaneous requests to the store")
	flags.Int("worker-concurrency", s3ferry.DefaultWorkerConcurrency, "maximum part tasks in flight")
	flags.Int("retries", retry.DefaultMaxAttempts, fmt.Sprintf("attempts per store operation, clamped to %d", retry.MaxAttemptsLimit))
	flags.Bool("retry-client-errors", false, "also retry 4xx-class failures")
	flags.String("log-level", "warn", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("S3FERRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	bindFlags(flags,
		"endpoint", "region", "insecure", "path-style", "key-dir",
		"chunk-size", "http-concurrency", "worker-concurrency",
		"retries", "retry-client-errors", "log-level",
	)

	cmd.AddCommand(newUploadCommand())
	cmd.AddCommand(newDownloadCommand())
	cmd.AddCommand(newCopyCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newDiskUsageCommand())
	cmd.AddCommand(newStatCommand())
	cmd.AddCommand(newExistsCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newPendingUploadsCommand())
	cmd.AddCommand(newAbortUploadCommand())
	cmd.AddCommand(newAbortOldUploadsCommand())
	cmd.AddCommand(newAddKeyCommand())
	cmd.AddCommand(newRemoveKeyCommand())
	cmd.AddCommand(newKeygenCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}
}

func buildClient() (*s3ferry.Client, error) {
	chunkSize, err := humanize.ParseBytes(viper.GetString("chunk-size"))
	if err != nil {
		return nil, fmt.Errorf("parse chunk size: %w", err)
	}
	level, ok := pslog.ParseLevel(viper.GetString("log-level"))
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", viper.GetString("log-level"))
	}
	logger := pslog.NewStructured(os.Stderr).LogLevel(level)
	return s3ferry.New(s3ferry.Config{
		S3: s3api.Config{
			Endpoint:       viper.GetString("endpoint"),
			Region:         viper.GetString("region"),
			Insecure:       viper.GetBool("insecure"),
			ForcePathStyle: viper.GetBool("path-style"),
		},
		KeyDir:    viper.GetString("key-dir"),
		ChunkSize: int64(chunkSize),
		Retry: retry.Config{
			MaxAttempts:       viper.GetInt("retries"),
			RetryClientErrors: viper.GetBool("retry-client-errors"),
		},
		HTTPConcurrency:   viper.GetInt("http-concurrency"),
		WorkerConcurrency: viper.GetInt("worker-concurrency"),
		Logger:            logger,
	})
}
