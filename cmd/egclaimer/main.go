package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"egclaimer/browser"
	"egclaimer/browsercookie"
	"egclaimer/catalog"
	"egclaimer/claim"
	"egclaimer/credential"
	"egclaimer/internal/config"
	"egclaimer/orchestrator"
	"egclaimer/scheduler"
	"egclaimer/session"
)

var rootCmd = &cobra.Command{
	Use:   "egclaimer",
	Short: "Claims the storefront's weekly free offers for your account",
	Long: `egclaimer watches the storefront's rotating free offers and claims the
ones your account does not own yet. It reuses the login from your installed
browser where possible, drives a real checkout flow, and leaves anything it
cannot resolve (CAPTCHAs, age gates it cannot pass) to you, with evidence
snapshots for triage.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "error: config:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("country", "US", "storefront country code")
	flags.String("locale", "en-US", "storefront locale")
	flags.String("profile", "Default", "browser profile to harvest cookies from")
	flags.String("session-path", "", "session file location")
	flags.String("evidence-dir", "", "directory for failure snapshots")
	flags.Bool("prefer-bundled", false, "skip the installed-browser probe")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	for _, name := range []string{
		"country", "locale", "profile", "session-path",
		"evidence-dir", "prefer-bundled", "log-level",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logoutCmd())
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Claim all unowned free offers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			log := newLogger(opts)
			banner()

			ctx, stop := signalContext()
			defer stop()

			summary, err := buildOrchestrator(opts, false, log).Run(ctx)
			if err != nil {
				return err
			}
			printSummary(summary)
			if n := failedCount(summary); n > 0 {
				return fmt.Errorf("%d offer(s) not claimed", n)
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List the current free offers and whether you own them",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			log := newLogger(opts)

			ctx, stop := signalContext()
			defer stop()

			summary, err := buildOrchestrator(opts, true, log).Run(ctx)
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		},
	}
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run now, then daily at the configured time",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			log := newLogger(opts)
			banner()

			ctx, stop := signalContext()
			defer stop()

			cycle := func(ctx context.Context) error {
				summary, err := buildOrchestrator(opts, false, log).Run(ctx)
				if err != nil {
					return err
				}
				printSummary(summary)
				return nil
			}
			return scheduler.New(opts.ScheduleHour, opts.ScheduleMinute, cycle, log).Start(ctx)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			log := newLogger(opts)

			s := session.NewStore(opts.SessionPath, log).Load()
			if s == nil {
				fmt.Println("no session persisted; run 'egclaimer run' to log in")
				return nil
			}

			now := time.Now()
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendRow(table.Row{"account", s.DisplayName})
			t.AppendRow(table.Row{"access token valid", s.IsValid(now)})
			t.AppendRow(table.Row{"access expires", s.AccessExpiresAt.Format(time.RFC1123)})
			t.AppendRow(table.Row{"refreshable", s.IsRefreshable(now)})
			t.AppendRow(table.Row{"refresh expires", s.RefreshExpiresAt.Format(time.RFC1123)})
			t.AppendRow(table.Row{"session file", opts.SessionPath})
			t.Render()
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			log := newLogger(opts)
			if err := session.NewStore(opts.SessionPath, log).Clear(); err != nil {
				return err
			}
			fmt.Println("session cleared")
			return nil
		},
	}
}

// buildOrchestrator assembles the credential chain, catalog client, browser
// acquisition and claim machine into one run.
func buildOrchestrator(opts config.Options, checkOnly bool, log zerolog.Logger) *orchestrator.Orchestrator {
	store := session.NewStore(opts.SessionPath, log)
	cat := catalog.NewClient(catalog.Config{
		Country:      opts.Country,
		Locale:       opts.Locale,
		UserAgent:    opts.UserAgent,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Timeout:      opts.HTTPTimeout,
	}, log)

	browserCfg := browser.Config{
		Profile:       opts.Profile,
		UserDataDir:   opts.UserDataDir,
		BinPath:       opts.BrowserBin,
		Headless:      opts.Headless,
		UserAgent:     opts.UserAgent,
		Locale:        opts.Locale,
		PreferBundled: opts.PreferBundled,
	}

	extractor := browsercookie.NewExtractor(opts.Profile, log)
	if opts.UserDataDir != "" {
		extractor = extractor.WithUserDataDir(opts.UserDataDir)
	}

	headedSurface := func() (browser.Surface, error) {
		cfg := browserCfg
		cfg.Headless = false
		surface, _, err := browser.Acquire(cfg, log)
		return surface, err
	}

	chain := credential.NewChain(log,
		credential.NewSavedSession(store, cat, log),
		credential.NewBrowserCookie(extractor, cat, store, log),
		credential.NewInteractiveLogin(headedSurface, store, log,
			credential.WithLoginTimeout(opts.LoginTimeout)),
	)

	acquire := func() (browser.Surface, browser.Strategy, error) {
		return browser.Acquire(browserCfg, log)
	}
	newMachine := func(surface browser.Surface) orchestrator.Claimer {
		return claim.NewMachine(surface, claim.Config{
			Locale:         opts.Locale,
			CaptchaCeiling: opts.CaptchaCeiling,
			EvidenceDir:    opts.EvidenceDir,
		}, log)
	}

	return orchestrator.New(chain, cat, acquire, newMachine,
		orchestrator.Config{CheckOnly: checkOnly}, log)
}

func printSummary(summary orchestrator.Summary) {
	if len(summary.Results) == 0 {
		fmt.Println("no free offers right now")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"offer", "outcome", "verified", "detail"})
	for _, r := range summary.Results {
		t.AppendRow(table.Row{r.Offer.Title, r.Outcome, r.Verified, r.Reason})
	}
	t.AppendFooter(table.Row{
		"", "",
		fmt.Sprintf("claimed: %d", summary.Count(claim.OutcomeClaimed)),
		fmt.Sprintf("owned: %d", summary.Count(claim.OutcomeAlreadyOwned)),
	})
	t.Render()

	if summary.Provenance == catalog.ProvenanceMirror {
		fmt.Println("note: offer list came from the mirror; the storefront API was unreachable")
	}
}

// failedCount counts terminal non-success outcomes; pending and owned offers
// are not failures.
func failedCount(summary orchestrator.Summary) int {
	n := 0
	for _, r := range summary.Results {
		switch r.Outcome {
		case claim.OutcomeClaimed, claim.OutcomeAlreadyOwned, orchestrator.OutcomePending:
		default:
			n++
		}
	}
	return n
}

func newLogger(opts config.Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func banner() {
	figure.NewFigure("egclaimer", "cybermedium", true).Print()
	fmt.Println()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
