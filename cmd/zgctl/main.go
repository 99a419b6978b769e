package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/examstats/zipgrade-pipeline/internal/db"
	"github.com/examstats/zipgrade-pipeline/internal/importer"
	"github.com/examstats/zipgrade-pipeline/internal/snapshot"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zgctl",
		Short: "Zipgrade pipeline maintenance: database migration, snapshots and bulk imports",
	}
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	root.AddCommand(migrateCmd(), snapshotCmd(), importSessionCmd())
	return root
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy tables between SQL backends and verify counts/fingerprints",
		RunE:  runMigrate,
	}
	f := cmd.Flags()
	f.String("source", "", "Source DSN (required)")
	f.String("source-driver", "sqlite", "Source driver (sqlite, postgres)")
	f.String("target", "", "Target DSN (required)")
	f.String("target-driver", "postgres", "Target driver (sqlite, postgres)")
	f.StringSlice("tables", nil, "Tables to migrate (default: all pipeline tables)")
	f.Int("chunk", snapshot.DefaultChunkSize, "Rows per copy/fingerprint chunk")
	f.Bool("fingerprint", true, "Compute SHA-256 content fingerprints")
	f.Bool("dry-run", false, "Snapshot both sides without copying")
	f.Bool("truncate-target", false, "Delete target rows before copying")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	logger := setupLogging(v)
	ctx := cmd.Context()

	source, err := db.OpenRaw(ctx, db.Driver(v.GetString("source-driver")), v.GetString("source"))
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer source.Close()
	targetDriver := db.Driver(v.GetString("target-driver"))
	target, err := db.Open(ctx, targetDriver, v.GetString("target"))
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer target.Close()

	rep, err := snapshot.Migrate(ctx, source, target, targetDriver, snapshot.MigrateOptions{
		Tables:         v.GetStringSlice("tables"),
		ChunkSize:      v.GetInt("chunk"),
		Fingerprint:    v.GetBool("fingerprint"),
		DryRun:         v.GetBool("dry-run"),
		TruncateTarget: v.GetBool("truncate-target"),
	})
	if err != nil {
		return err
	}
	if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
		return err
	}
	if rep.HasMismatches() {
		logger.Error("migration verification found mismatches", "count", len(rep.Mismatches))
		os.Exit(1)
	}
	logger.Info("migration verified", "tables", len(rep.SourceSnapshot), "dry_run", rep.DryRun)
	return nil
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fingerprint one database without migrating",
		RunE:  runSnapshot,
	}
	f := cmd.Flags()
	f.String("dsn", "", "DSN (required)")
	f.String("driver", "sqlite", "Driver (sqlite, postgres)")
	f.StringSlice("tables", nil, "Tables to snapshot (default: all pipeline tables)")
	f.Int("chunk", snapshot.DefaultChunkSize, "Rows per fingerprint chunk")
	f.Bool("fingerprint", true, "Compute SHA-256 content fingerprints")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	dbh, err := db.OpenRaw(ctx, db.Driver(v.GetString("driver")), v.GetString("dsn"))
	if err != nil {
		return err
	}
	defer dbh.Close()

	tables := v.GetStringSlice("tables")
	if len(tables) == 0 {
		tables = db.CoreTables
	}
	snaps, err := snapshot.Snapshot(ctx, dbh, tables, snapshot.Options{
		ChunkSize:   v.GetInt("chunk"),
		Fingerprint: v.GetBool("fingerprint"),
	})
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(snaps)
}

func importSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-session",
		Short: "Legacy bulk import of one session, no preview phase",
		Long: "Imports a blueprint/responses pair directly. Duplicate answers keep " +
			"is_correct=true once set (the historical bulk policy); the HTTP pipeline " +
			"instead takes the last written value.",
		RunE: runImportSession,
	}
	f := cmd.Flags()
	f.String("dsn", "", "DSN (required)")
	f.String("driver", "sqlite", "Driver (sqlite, postgres)")
	f.Int64("exam", 0, "Exam id (required)")
	f.Int("session", 0, "Session number (required)")
	f.String("blueprint", "", "Blueprint CSV path (required)")
	f.String("responses", "", "Responses CSV path (required)")
	for _, req := range []string{"dsn", "exam", "session", "blueprint", "responses"} {
		_ = cmd.MarkFlagRequired(req)
	}
	return cmd
}

func runImportSession(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	logger := setupLogging(v)
	ctx := cmd.Context()

	dbh, err := db.Open(ctx, db.Driver(v.GetString("driver")), v.GetString("dsn"))
	if err != nil {
		return err
	}
	defer dbh.Close()

	svc := importer.NewService(dbh, importer.NewMemoryPreviewStore(nil), logger)
	res, err := svc.ImportDirect(ctx, v.GetInt64("exam"), v.GetInt("session"),
		v.GetString("blueprint"), v.GetString("responses"))
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(res)
}

func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ZGCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.Root().PersistentFlags())
	return v
}

func setupLogging(v *viper.Viper) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.ToLower(v.GetString("log-format")) == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
