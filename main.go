package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/rocketdrive/backupagent/config"
	"github.com/rocketdrive/backupagent/history"
	"github.com/rocketdrive/backupagent/logging"
	"github.com/rocketdrive/backupagent/notify"
	"github.com/rocketdrive/backupagent/sync"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	settings  *config.Settings
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "rocketdrive",
	Short:         "Incremental backup of local folders to S3",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runBackup(cmd.Context(), settings, dryRun)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "rocketdrive", version)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent backup runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return showHistory(cmd.Context(), cmd.OutOrStdout(), settings, limit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "settings file")
	rootCmd.Flags().Bool("dry-run", false, "log actions without uploading, deleting or advancing the checkpoint")
	historyCmd.Flags().IntP("limit", "n", 10, "number of runs to show")
	rootCmd.AddCommand(versionCmd, historyCmd)
}

func setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	explicit := cmd.Flags().Changed("config")
	if env := os.Getenv(config.EnvPrefix + "_CONFIG"); env != "" && !explicit {
		path, explicit = env, true
	}

	s, err := config.Load(path, explicit)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(s.Log.Level)
	if err != nil {
		return err
	}
	_, closer, err := logging.Setup(logging.Options{
		Level:        level,
		Dir:          s.Log.Dir,
		RetainFiles:  s.Log.RetainFiles,
		MaxFileBytes: s.Log.FileSizeLimitBytes,
	})
	if err != nil {
		return err
	}
	settings, logCloser = s, closer
	slog.Debug("settings loaded", "settings", s)
	return nil
}

func runBackup(ctx context.Context, s *config.Settings, dryRun bool) error {
	if err := s.RequireBucket(); err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.S3.Region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.S3.Endpoint)
			o.UsePathStyle = true
		}
	})
	remote := sync.NewS3Remote(client, s.S3.Bucket, s.S3.Prefix, types.StorageClass(s.S3.StorageClass))

	notifier, err := buildNotifier(s)
	if err != nil {
		return err
	}

	var options []sync.Option
	if s.History.Path != "" {
		store, err := history.Open(s.History.Path)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer store.Close()
		options = append(options, sync.WithStatusSink(store))
	}

	engine := sync.New(remote, notifier, sync.Options{
		Folders:        s.Backup.Folders,
		Extensions:     sync.NormalizeExtensions(s.Backup.AllowedExtensions...),
		TargetFolder:   s.Backup.TargetDriveFolderName,
		CheckpointPath: s.Backup.LastUploadedFileTimePath,
		StatusPath:     s.Backup.StatusFilePath,
		Overwrite:      s.Backup.OverwriteExisting,
		MaxAttempts:    max(1, s.Backup.UploadRetryCount),
		DryRun:         dryRun,
	}, options...)

	slog.Info("backup run starting", "bucket", s.S3.Bucket, "target", s.Backup.TargetDriveFolderName, "dryRun", dryRun)
	status, err := engine.Run(ctx)
	slog.Info("backup run finished",
		"uploaded", status.FilesUploaded,
		"bytes", humanize.Bytes(uint64(status.BytesUploaded)),
		"errors", status.Errors,
		"elapsed", status.FinishedUTC.Sub(status.StartedUTC).Round(time.Millisecond),
	)
	return err
}

func buildNotifier(s *config.Settings) (*notify.FanOut, error) {
	var channels []notify.Notifier
	if s.Email.Enabled {
		email, err := notify.NewEmail(notify.EmailConfig{
			APIKey:    s.Email.SendgridAPIKey,
			FromName:  s.Email.FromName,
			FromEmail: s.Email.FromEmail,
			ToName:    s.Email.ToName,
			ToEmail:   s.Email.ToEmail,
		})
		if err != nil {
			return nil, fmt.Errorf("email channel: %w", err)
		}
		channels = append(channels, email)
	}
	if s.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			BotToken: s.Telegram.BotToken,
			ChatID:   s.Telegram.ChatID,
			BaseURL:  s.Telegram.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		channels = append(channels, tg)
	}
	policy := notify.Policy{
		OnSuccess: s.Backup.Notify.OnSuccess,
		OnFailure: s.Backup.Notify.OnFailure,
	}
	return notify.NewFanOut(policy, channels...), nil
}

func showHistory(ctx context.Context, w io.Writer, s *config.Settings, limit int) error {
	if s.History.Path == "" {
		return errors.New("History.Path is not configured")
	}
	store, err := history.Open(s.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		outcome := "ok"
		if r.Notes != "" {
			outcome = "failed: " + r.Notes
		}
		fmt.Fprintf(w, "%s  uploaded=%d (%s) skipped=%d unstable=%d errors=%d  %s\n",
			r.StartedUTC, r.FilesUploaded, humanize.Bytes(uint64(r.BytesUploaded)),
			r.SkippedExisting, r.SkippedUnstable, r.Errors, outcome)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("rocketdrive failed", "error", err)
		logDir := "logs"
		if settings != nil {
			logDir = settings.Log.Dir
		}
		if ferr := logging.AppendFatal(logDir, time.Now(), err); ferr != nil {
			fmt.Fprintf(os.Stderr, "write fatal log: %v\n", ferr)
		}
		stop()
		os.Exit(1)
	}
}
