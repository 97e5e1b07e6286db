// vitals-check 运维排查：打印各设备最近读数的汇总
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/pkg/database"
)

func main() {
	hours := flag.Int("hours", 24, "look back window in hours")
	device := flag.String("device", "", "print the latest readings of this device instead of the summary")
	limit := flag.Int("limit", 20, "number of readings printed with -device")
	flag.Parse()

	cfg := config.Load()
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	repo := repository.NewVitalReadingsRepository(db, zap.NewNop())

	if *device != "" {
		readings, err := repo.ListByDevice(ctx, *device, *limit)
		if err != nil {
			log.Fatalf("Failed to list readings: %v", err)
		}
		fmt.Printf("%-36s %-20s %-10s %-10s %-8s %-25s %-6s %s\n",
			"id", "reading_type", "primary", "secondary", "unit", "measured_at", "valid", "errors/warnings")
		fmt.Println(strings.Repeat("-", 140))
		for _, r := range readings {
			secondary := "-"
			if r.SecondaryValue != nil {
				secondary = fmt.Sprintf("%.1f", *r.SecondaryValue)
			}
			fmt.Printf("%-36s %-20s %-10.1f %-10s %-8s %-25s %-6t %s\n",
				r.ID, r.ReadingType, r.PrimaryValue, secondary, r.Unit,
				r.MeasuredAt.Format(time.RFC3339), r.IsValid,
				strings.Join(append(append([]string{}, r.Errors...), r.Warnings...), "; "))
		}
		return
	}

	since := time.Now().Add(-time.Duration(*hours) * time.Hour)
	summary, err := repo.SummarizeSince(ctx, since)
	if err != nil {
		log.Fatalf("Failed to summarize readings: %v", err)
	}
	fmt.Printf("Readings since %s\n", since.Format(time.RFC3339))
	fmt.Printf("%-30s %-20s %-8s %-8s %-10s %-8s %s\n",
		"device_id", "reading_type", "total", "invalid", "warnings", "quality", "last_measured_at")
	fmt.Println(strings.Repeat("-", 110))
	for _, s := range summary {
		fmt.Printf("%-30s %-20s %-8d %-8d %-10d %-8.2f %s\n",
			s.DeviceID, s.ReadingType, s.Total, s.Invalid, s.WithWarnings, s.AvgQuality,
			s.LastMeasuredAt.Format(time.RFC3339))
	}
	if len(summary) == 0 {
		fmt.Println("(no readings)")
	}
}
