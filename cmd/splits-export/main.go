package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/claude/splits/internal/catalog"
	"github.com/claude/splits/internal/config"
	"github.com/claude/splits/internal/export"
	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	outPath := flag.String("out", "", "output file (default stdout)")
	mode := flag.String("mode", "", "only export this mode (simulation or custom)")
	category := flag.String("category", "", "only export this category (open or pro)")
	since := flag.String("since", "", "only export workouts completed on or after this date (YYYY-MM-DD)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	filter, err := buildFilter(*mode, *category, *since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: splits-export [-config config.yaml] [-out file.csv] [-mode simulation|custom] [-category open|pro] [-since YYYY-MM-DD]\n")
		log.Error("invalid flags", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := storage.OpenAndMigrate(ctx, cfg.Storage.Path)
	if err != nil {
		log.Error("failed to open database", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	workouts, err := db.QueryWorkouts(ctx, filter)
	if err != nil {
		log.Error("query failed", "error", err)
		os.Exit(1)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Error("failed to create output file", "path", *outPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := export.WriteCSV(out, workouts); err != nil {
		log.Error("export failed", "error", err)
		os.Exit(1)
	}
	log.Info("export complete", "workouts", len(workouts))
}

func buildFilter(mode, category, since string) (models.WorkoutFilter, error) {
	// History is small; export everything that matches.
	f := models.WorkoutFilter{Limit: 1_000_000}
	if mode != "" {
		f.Mode = models.Mode(mode)
		if !f.Mode.Valid() {
			return f, fmt.Errorf("unknown mode %q", mode)
		}
	}
	if category != "" {
		c, err := catalog.ParseCategory(category)
		if err != nil {
			return f, err
		}
		f.Category = c
	}
	if since != "" {
		t, err := time.Parse("2006-01-02", since)
		if err != nil {
			return f, fmt.Errorf("since: %w", err)
		}
		f.Since = t
	}
	return f, nil
}
