package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/booking"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/reminder"
	"github.com/clinic/clinic/migrations"
)

// connect loads config and opens a small pool for one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, zerolog.Logger, error) {
	logger := newLogger()
	cfg := loadConfig(logger)
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, nil, logger, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, pool, logger, nil
}

// migrationFiles returns dir when set, otherwise the embedded schema.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("target")
			ctx := cmd.Context()
			_, pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir)).UpTo(ctx, target)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded)")
	upCmd.Flags().Int("target", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			_, pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, s := range statuses {
		applied := "pending"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%03d\t%s\t%s\n", s.Version, s.Name, applied)
	}
	tw.Flush()
}

func availabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Manage doctors' weekly working hours",
	}

	addCmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a working window",
		Example: `  clinic-server availability add --doctor "Ana Souza" --weekday Monday --start 09:00 --end 12:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := slotFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg, pool, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, err := newService(cfg, pool, logger)
			if err != nil {
				return err
			}
			if err := svc.AddAvailability(ctx, slot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added slot %d: %s %s %s-%s\n",
				slot.ID, slot.DoctorName, slot.Weekday, slot.StartTime, slot.EndTime)
			return nil
		},
	}
	addCmd.Flags().String("doctor", "", "Doctor name as patients will type it, without title")
	addCmd.Flags().String("weekday", "", "Monday..Sunday")
	addCmd.Flags().String("start", "", "Start time, HH:MM")
	addCmd.Flags().String("end", "", "End time, HH:MM")
	for _, f := range []string{"doctor", "weekday", "start", "end"} {
		_ = addCmd.MarkFlagRequired(f)
	}
	cmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List working windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctor, _ := cmd.Flags().GetString("doctor")
			ctx := cmd.Context()
			cfg, pool, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, err := newService(cfg, pool, logger)
			if err != nil {
				return err
			}
			slots, err := svc.ListAvailability(ctx, doctor)
			if err != nil {
				return err
			}
			printSlots(cmd.OutOrStdout(), slots)
			return nil
		},
	}
	listCmd.Flags().String("doctor", "", "Only this doctor")
	cmd.AddCommand(listCmd)

	return cmd
}

func slotFromFlags(cmd *cobra.Command) (*booking.AvailabilitySlot, error) {
	doctor, _ := cmd.Flags().GetString("doctor")
	weekday, _ := cmd.Flags().GetString("weekday")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")

	w, err := booking.ParseWeekday(weekday)
	if err != nil {
		return nil, err
	}
	st, err := booking.ParseTimeOfDay(start)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}
	et, err := booking.ParseTimeOfDay(end)
	if err != nil {
		return nil, fmt.Errorf("--end: %w", err)
	}
	return &booking.AvailabilitySlot{
		DoctorName: booking.CanonicalDoctorName(doctor),
		Weekday:    w,
		StartTime:  st,
		EndTime:    et,
	}, nil
}

func printSlots(w io.Writer, slots []*booking.AvailabilitySlot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOCTOR\tWEEKDAY\tSTART\tEND")
	for _, s := range slots {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.DoctorName, s.Weekday, s.StartTime, s.EndTime)
	}
	tw.Flush()
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Appointment reminders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Publish reminders for tomorrow's appointments once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, err := newService(cfg, pool, logger)
			if err != nil {
				return err
			}
			publisher := newPublisher(cfg, logger)
			defer publisher.Close()

			sched := reminder.NewScheduler(svc, publisher, logger)
			sched.Location = svc.Location()
			res, err := sched.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d appointment(s), %d reminder(s) sent, %d failed\n",
				res.Date, res.Found, res.Sent, res.Failed)
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens for API callers",
	}
	issueCmd := &cobra.Command{
		Use:     "issue",
		Short:   "Sign a token with AUTH_SIGNING_KEY",
		Example: `  clinic-server token issue --subject chat-transport --role bot --ttl 8760h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if err := checkRoles(roles); err != nil {
				return err
			}

			logger := newLogger()
			cfg := loadConfig(logger)
			tok, err := auth.IssueToken(auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)}, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issueCmd.Flags().String("subject", "", "Caller identity (becomes the appointment owner for user tokens)")
	issueCmd.Flags().StringSlice("role", []string{auth.RoleUser}, "admin, bot or user; repeatable")
	issueCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = issueCmd.MarkFlagRequired("subject")
	cmd.AddCommand(issueCmd)
	return cmd
}

func checkRoles(roles []string) error {
	if len(roles) == 0 {
		return fmt.Errorf("at least one --role is required")
	}
	for _, r := range roles {
		switch r {
		case auth.RoleAdmin, auth.RoleBot, auth.RoleUser:
		default:
			return fmt.Errorf("unknown role %q (want %s)", r, strings.Join([]string{auth.RoleAdmin, auth.RoleBot, auth.RoleUser}, ", "))
		}
	}
	return nil
}
