// remindctl is the operator's manual reminder tool. "send" pushes one
// reminder, optionally past the guards; "bulk" runs one dispatch pass with
// the configured policy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"terminarz/internal/config"
	"terminarz/internal/db"
	"terminarz/internal/gcal"
	"terminarz/internal/model"
	"terminarz/internal/notify"
	"terminarz/internal/scheduler"
	"terminarz/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: remindctl send <reservation-id> [-force] [-sync] | remindctl bulk")
		return 1
	}

	cfg, err := config.Load(os.Getenv("TERMINARZ_CONFIG_PATH"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return 1
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Error().Err(err).Msg("invalid timezone")
		return 1
	}
	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Msg("open db error")
		return 1
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var tr transport.Transport
	switch cfg.SMS.Driver {
	case "smsapi":
		tr = transport.NewSMSAPIClient(cfg.SMS.Token, cfg.SMS.From, &logger)
	default:
		tr = transport.NewLogTransport(&logger)
	}
	composer := notify.NewComposer(cfg.App.BaseURL, loc)
	sender := notify.NewSender(database, tr, composer, nil, &logger)

	switch args[0] {
	case "send":
		return runSend(ctx, args[1:], cfg, loc, database, sender, &logger)
	case "bulk":
		return runBulk(ctx, cfg, loc, database, sender, &logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return 1
	}
}

func runSend(ctx context.Context, args []string, cfg *config.Config, loc *time.Location, database *db.DB, sender *notify.Sender, logger *zerolog.Logger) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip the pre-send guards")
	sync := fs.Bool("sync", false, "reconcile the calendar event after sending")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: remindctl send <reservation-id> [-force] [-sync]")
		fs.PrintDefaults()
	}

	// Accept the id before or after the flags.
	var rest []string
	var idArg string
	for _, a := range args {
		if len(a) > 0 && a[0] != '-' && idArg == "" {
			idArg = a
			continue
		}
		rest = append(rest, a)
	}
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if idArg == "" && fs.NArg() > 0 {
		idArg = fs.Arg(0)
	}
	var id int64
	if _, err := fmt.Sscanf(idArg, "%d", &id); err != nil {
		fmt.Fprintf(os.Stderr, "invalid reservation id %q\n", idArg)
		return 1
	}

	r, err := database.GetReservation(ctx, id)
	if err != nil {
		logger.Error().Err(err).Int64("reservation_id", id).Msg("reservation lookup failed")
		return 1
	}

	result, err := sender.Send(ctx, r, notify.KindReminder, *force)
	switch {
	case err == nil:
		fmt.Printf("reminder sent, provider message id %s\n", result.ProviderMessageID)
	case notify.IsLockContention(err):
		fmt.Println("reminder already claimed by another worker, nothing to do")
	default:
		if ge, ok := notify.IsGuardRejected(err); ok {
			fmt.Fprintf(os.Stderr, "not sent: %s (use -force to override)\n", ge.Reason)
			printDiagnostics(r)
			return 1
		}
		logger.Error().Err(err).Int64("reservation_id", id).Msg("send failed")
		return 1
	}

	if *sync {
		if code := reconcileCalendar(ctx, cfg, loc, database, r, logger); code != 0 {
			return code
		}
	}
	return 0
}

func runBulk(ctx context.Context, cfg *config.Config, loc *time.Location, database *db.DB, sender *notify.Sender, logger *zerolog.Logger) int {
	sched, err := scheduler.New(scheduler.Config{
		Policy:        scheduler.Policy(cfg.Reminders.Policy),
		OffsetHours:   cfg.Reminders.OffsetHours,
		WindowHours:   cfg.Reminders.WindowHours,
		SendTime:      cfg.Reminders.SendTime,
		Cutoff:        cfg.Reminders.Cutoff,
		MaxConcurrent: cfg.Reminders.MaxConcurrent,
	}, database, sender, loc, logger)
	if err != nil {
		logger.Error().Err(err).Msg("invalid reminder policy")
		return 1
	}
	sched.RunNow(ctx)
	return 0
}

// printDiagnostics lists the state of every guard so the operator sees why a
// send was rejected without digging through the record.
func printDiagnostics(r *model.Reservation) {
	fmt.Fprintf(os.Stderr, "  status:           %s\n", r.Status)
	fmt.Fprintf(os.Stderr, "  send_reminder:    %t\n", r.SendReminder)
	if r.ReminderSentAt != nil {
		fmt.Fprintf(os.Stderr, "  reminder_sent_at: %s\n", r.ReminderSentAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(os.Stderr, "  reminder_sent_at: (not sent)")
	}
	fmt.Fprintf(os.Stderr, "  starts_at:        %s\n", r.StartsAt.Format(time.RFC3339))
}

// reconcileCalendar makes the mirrored calendar event match the reservation:
// created when missing, updated otherwise.
func reconcileCalendar(ctx context.Context, cfg *config.Config, loc *time.Location, database *db.DB, r *model.Reservation, logger *zerolog.Logger) int {
	if !cfg.Calendar.Enabled {
		fmt.Fprintln(os.Stderr, "-sync ignored: calendar integration is disabled in config")
		return 0
	}
	cal, err := gcal.NewService(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.CalendarID, loc)
	if err != nil {
		logger.Error().Err(err).Msg("calendar setup error")
		return 1
	}
	client, err := database.GetClient(ctx, r.ClientID)
	if err != nil {
		logger.Error().Err(err).Msg("client lookup failed")
		return 1
	}
	summary := fmt.Sprintf("Wizyta: %s", client.FullName)
	if r.ExternalEventID == "" {
		eventID, err := cal.CreateEvent(ctx, summary, r.StartsAt, r.EndsAt())
		if err != nil {
			logger.Error().Err(err).Msg("calendar create failed")
			return 1
		}
		if err := database.SetExternalEventID(ctx, r.ID, eventID); err != nil {
			logger.Error().Err(err).Msg("failed to store calendar event id")
			return 1
		}
		fmt.Printf("calendar event %s created\n", eventID)
		return 0
	}
	if err := cal.UpdateEvent(ctx, r.ExternalEventID, summary, r.StartsAt, r.EndsAt()); err != nil {
		logger.Error().Err(err).Msg("calendar update failed")
		return 1
	}
	fmt.Printf("calendar event %s updated\n", r.ExternalEventID)
	return 0
}
