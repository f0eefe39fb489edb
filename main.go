// Command driver-intake registers drivers from chat messages into a
// categorized workbook.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"driver_intake/internal/config"
	"driver_intake/internal/intake"
	"driver_intake/internal/logging"
	"driver_intake/internal/report"
	"driver_intake/internal/whatsapp"
)

// cli carries the state shared by the subcommands.
type cli struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "driver-intake",
		Short: "Register drivers from chat messages into a categorized workbook",
		Long: `driver-intake reads free-text driver registration messages, keeps the
partial data of every phone number until the registration is complete, and
stores complete and incomplete registrations in the TAC, Aggregate and
Incomplete Contacts sheets of an .xlsx workbook.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if c.verbose {
				cfg.Logging.Level = "debug"
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		c.serveCmd(),
		c.pasteCmd(),
		c.manualCmd(),
		c.progressCmd(),
		c.reportCmd(),
		c.watchCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the app for one command run and closes it afterwards.
func (c *cli) withApp(cmd *cobra.Command, run func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c.cfg, c.configPath, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return run(ctx, a)
}

func (c *cli) serveCmd() *cobra.Command {
	var withWhatsApp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP intake API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.rules.Watch(); err != nil {
					a.logger.Warn("Config auto-reload disabled", zap.Error(err))
				}

				e := newEcho(a)
				g, ctx := errgroup.WithContext(ctx)

				g.Go(func() error {
					a.logger.Info("Driver intake API started", zap.String("port", a.cfg.Server.Port))
					if err := e.Start(":" + a.cfg.Server.Port); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})

				if withWhatsApp {
					g.Go(func() error {
						// The API keeps serving when the browser side fails.
						if err := whatsapp.NewWatcher(a.cfg.WhatsApp, a.logger).Run(ctx, messageHandler(a, cmd)); err != nil {
							a.logger.Error("WhatsApp watcher stopped", zap.Error(err))
						}
						return nil
					})
				}

				g.Go(func() error {
					<-ctx.Done()
					a.logger.Info("Shutting down")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return e.Shutdown(shutdownCtx)
				})

				return g.Wait()
			})
		},
	}
	cmd.Flags().BoolVar(&withWhatsApp, "whatsapp", false, "Also watch WhatsApp Web for messages")
	return cmd
}

func (c *cli) pasteCmd() *cobra.Command {
	var sender string

	cmd := &cobra.Command{
		Use:   "paste [message]",
		Short: "Process pasted driver messages",
		Long: `Processes the message given as arguments, or reads messages from stdin.
On stdin an empty line ends a message, so multi-line templates can be pasted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) > 0 {
					return printOutcome(ctx, a, cmd, intake.Message{Text: strings.Join(args, " "), Sender: sender})
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Paste the driver's message (empty line to submit, Ctrl+D to quit):")
				handle := messageHandler(a, cmd)
				return readMessages(ctx, cmd.InOrStdin(), func(text string) error {
					return handle(ctx, intake.Message{Text: text, Sender: sender})
				})
			})
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "Sender phone used when the message has none")
	return cmd
}

func (c *cli) manualCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manual",
		Short: "Type in one registration field by field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := promptRegistration(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				res, err := a.processor.Submit(ctx, rec)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), describeResult(res))
				return nil
			})
		},
	}
}

func (c *cli) progressCmd() *cobra.Command {
	var templates bool

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show the registration count and the next milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				progress, err := a.progress(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), describeProgress(progress))
				if templates {
					fmt.Fprint(cmd.OutOrStdout(), messageTemplates)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&templates, "templates", true, "Also print the message templates for drivers")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the daily registration report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				day, err := parseDay(date, a.now())
				if err != nil {
					return err
				}
				summary, path, err := a.reports.Generate(ctx, day)
				if err != nil {
					return err
				}
				text, err := report.Render(summary)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), text)
				fmt.Fprintf(cmd.OutOrStdout(), "\nReport written to %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to report as dd/mm/yyyy (default today)")
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the open WhatsApp Web chat and process incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				w := whatsapp.NewWatcher(a.cfg.WhatsApp, a.logger)
				return w.Run(ctx, messageHandler(a, cmd))
			})
		},
	}
}

// printOutcome processes one message and prints the outcome.
func printOutcome(ctx context.Context, a *app, cmd *cobra.Command, msg intake.Message) error {
	res, err := a.processor.Process(ctx, msg)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), describeError(err))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), describeResult(res))
	return nil
}

// messageHandler is printOutcome for message streams: a failed message is
// printed and logged, and the stream goes on with the next one.
func messageHandler(a *app, cmd *cobra.Command) whatsapp.Handler {
	return func(ctx context.Context, msg intake.Message) error {
		if err := printOutcome(ctx, a, cmd, msg); err != nil {
			a.logger.Warn("Message not processed", zap.String("sender", msg.Sender), zap.Error(err))
		}
		return nil
	}
}
