// Command generate materializes lessons from a tenant's weekly template for a date range.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"studiobook/internal/clock"
	"studiobook/internal/config"
	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/logging"
	"studiobook/internal/models"
	"studiobook/internal/pgstore"
	"studiobook/internal/schedule"
	"studiobook/internal/service"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config file")
	tenant := flag.String("tenant", "", "tenant id of the schedule template")
	start := flag.String("start", "", "first date, YYYY-MM-DD")
	end := flag.String("end", "", "last date, YYYY-MM-DD")
	clearExisting := flag.Bool("clear", false, "delete existing lessons without bookings in the range first")
	flag.Parse()

	if err := run(*configPath, *tenant, *start, *end, *clearExisting); err != nil {
		log.Fatalf("generate: %v", err)
	}
}

func run(configPath, tenant, start, end string, clearExisting bool) error {
	req := models.GenerationRequest{TenantID: tenant, ClearExisting: clearExisting}
	var err error
	if req.Start, err = clock.ParseDate(start); err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	if req.End, err = clock.ParseDate(end); err != nil {
		return fmt.Errorf("-end: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	zone, err := cfg.Zone()
	if err != nil {
		return err
	}

	var st domain.Store
	if cfg.Database.Driver == "postgres" {
		st, err = pgstore.Open(cfg.Database.Postgres, logger)
	} else {
		st, err = database.NewDB(cfg.Database.Path, logger)
	}
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.NewScheduleService(st, schedule.NewGenerator(st, zone, logger), zone, nil, events.NewEventBus(), logger)
	res, err := svc.Generate(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("tenant %s, %s..%s: %d created, %d cleared\n", req.TenantID, req.Start, req.End, len(res.Created), res.Cleared)
	for _, reason := range []models.SkipReason{models.SkipExplicit, models.SkipExists, models.SkipFailed} {
		if n := res.SkippedFor(reason); n > 0 {
			fmt.Printf("  skipped %s: %d\n", reason, n)
		}
	}
	for _, c := range res.Conflicts {
		fmt.Printf("  conflict %s %s: lesson %d\n", c.Date, c.Start.In(zone.Location()).Format("15:04"), c.LessonID)
	}
	if len(res.Retained) > 0 {
		fmt.Printf("  retained lessons with bookings: %v\n", res.Retained)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
