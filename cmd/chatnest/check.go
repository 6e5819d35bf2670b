package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/nestline/chatnest/internal/config"
	"github.com/nestline/chatnest/internal/storage/postgres"
	"github.com/nestline/chatnest/internal/storage/redis"
	"github.com/nestline/chatnest/internal/usage"
	"github.com/spf13/cobra"
)

var checkDay string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check backend connectivity and usage windows",
	Long:  `Check that the configured backends are reachable, or inspect a child's usage window for a day.`,
}

var checkConnCmd = &cobra.Command{
	Use:   "conn",
	Short: "Check database and event log connectivity",
	Long:  `Connect to PostgreSQL and Redis with the configured settings and report the result.`,
	RunE:  runCheckConn,
}

var checkUsageCmd = &cobra.Command{
	Use:   "usage [flags] CHILD_USERNAME",
	Short: "Inspect a child's usage window",
	Long:  `Replay a child's login/logout events for a day and show the sessions, total minutes and limit verdict.`,
	Example: `  chatnest -c config.yaml check usage timmy
  chatnest check usage --day 2025-03-10 timmy`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckUsage,
}

func init() {
	checkUsageCmd.Flags().StringVar(&checkDay, "day", "", "Day to inspect (YYYY-MM-DD) - defaults to today")

	checkCmd.AddCommand(checkConnCmd)
	checkCmd.AddCommand(checkUsageCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckConn(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("BACKEND CONNECTIVITY CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	failed := false

	cyan.Print("PostgreSQL: ")
	store, err := postgres.Open(cfg.Database)
	if err != nil {
		red.Println("FAIL")
		fmt.Printf("            → %v\n", err)
		failed = true
	} else {
		green.Println("OK")
		_ = store.Close()
	}

	cyan.Print("Redis:      ")
	eventLog, err := redis.Open(cfg.Redis)
	if err != nil {
		red.Println("FAIL")
		fmt.Printf("            → %v\n", err)
		failed = true
	} else {
		green.Println("OK")
		_ = eventLog.Close()
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if failed {
		return fmt.Errorf("one or more backends are unreachable")
	}
	return nil
}

func runCheckUsage(cmd *cobra.Command, args []string) error {
	username := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = store.Close() }()

	eventLog, err := redis.Open(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to event log: %w", err)
	}
	defer func() { _ = eventLog.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	child, err := store.Children().GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to load child %q: %w", username, err)
	}

	now := time.Now()
	day := usage.Day(now)
	if checkDay != "" {
		parsed, err := time.ParseInLocation("2006-01-02", checkDay, now.Location())
		if err != nil {
			return fmt.Errorf("invalid day %q, expected YYYY-MM-DD", checkDay)
		}
		day = usage.Day(parsed)
		// Evaluate a past day against its end, not against now
		if day != usage.Day(now) {
			now = parsed.Add(24*time.Hour - time.Nanosecond)
		}
	}

	events, err := eventLog.UsageEvents().ListForDay(ctx, child.ID, day)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	window := usage.ComputeUsage(events, now)
	verdict := usage.EvaluateLimit(window, child.DailyLimitMinutes)

	printUsageResult(child.Name, day, window, verdict, child.DailyLimitMinutes)

	return nil
}

// printUsageResult prints the usage window with colors
func printUsageResult(name, day string, window usage.Window, verdict usage.Verdict, limitMinutes int) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("USAGE WINDOW CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Child:      %s\n", name)
	fmt.Printf("Day:        %s\n", day)
	fmt.Printf("Limit:      %d minutes\n", limitMinutes)
	fmt.Println()

	if len(window.Sessions) == 0 {
		fmt.Println("No sessions recorded.")
	}
	for i, sess := range window.Sessions {
		state := "closed"
		if sess.Active {
			state = "active"
		}
		fmt.Printf("Session %d:  %s - %s  %3d min  (%s)\n",
			i+1,
			sess.Start.Format("15:04:05"),
			sess.End.Format("15:04:05"),
			sess.Minutes,
			state)
	}
	fmt.Println()

	fmt.Printf("Total:      %d minutes (%d%% of limit)\n", window.TotalMinutes, verdict.UsagePercent)

	cyan.Print("Verdict:    ")
	if verdict.Exceeded {
		red.Println("LIMIT REACHED")
		fmt.Println("            → Child logins will be denied today")
	} else {
		green.Println("WITHIN LIMIT")
		yellow.Printf("            → %d minutes remaining\n", verdict.RemainingMinutes)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
