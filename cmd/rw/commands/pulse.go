package commands

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/resourcewatch/am"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/pulse"
	"github.com/teranos/resourcewatch/telemetry"
)

// PulseCmd groups the scheduler daemon commands.
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Run the watch scheduler",
	Long: `Pulse runs every configured tenant on its interval until interrupted.

Filesystem tenants with watch_changes enabled are also checked shortly after
their files change. Editing the config file hot-reloads the watch section;
adding or removing tenants requires a restart.

Example:
  rw pulse start                   # Start in foreground
  rw pulse start --no-initial-run  # Wait one interval before the first runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the scheduler in the foreground.
var PulseStartCmd = &cobra.Command{
	Use:   "start [tenant...]",
	Short: "Start the scheduler",
	RunE:  runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Bool("no-initial-run", false, "Skip the run every tenant performs at startup")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	tenants, err := h.tenants(args)
	if err != nil {
		return err
	}
	wired, err := h.watchers(ctx, tenants)
	if err != nil {
		return err
	}

	noInitial, _ := cmd.Flags().GetBool("no-initial-run")
	sched := pulse.New(pulse.Config{
		DefaultInterval: cfg.Pulse.Interval(),
		RunOnStart:      cfg.Pulse.RunOnStart && !noInitial,
	}, telemetry.NewLogObserver(logger.ComponentLogger("watch")), logger.ComponentLogger("pulse"))

	for _, tw := range wired {
		job := pulse.Job{
			Runner:   tw.watcher,
			Interval: tw.cfg.Interval(cfg.Pulse.Interval()),
		}
		if tw.cfg.WatchChanges && tw.fs != nil {
			fs, tenant, debounce := tw.fs, tw.cfg.Name, cfg.Pulse.Debounce()
			job.Notify = func(ctx context.Context, onChange func()) error {
				return fs.Notify(ctx, tenant, debounce, onChange)
			}
		}
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	if path := am.ConfigPath(); path != "" {
		cw, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config hot reload disabled", "path", path, "error", err)
		} else {
			cw.OnReload(func(newCfg *am.Config) error {
				for _, tw := range wired {
					if err := tw.watcher.SetConfig(watchConfig(newCfg.Watch)); err != nil {
						return errors.Wrapf(err, "tenant %s", tw.cfg.Name)
					}
				}
				if !slices.Equal(tenantNames(cfg.Tenants), tenantNames(newCfg.Tenants)) {
					logger.Warnw("Tenant list changed; restart pulse to apply",
						"running", tenantNames(cfg.Tenants),
						"configured", tenantNames(newCfg.Tenants))
				}
				return nil
			})
			am.SetGlobalWatcher(cw)
			cw.Start()
			defer func() {
				am.SetGlobalWatcher(nil)
				_ = cw.Stop()
			}()
		}
	}

	pterm.Info.Printfln("Pulse started for %d tenant(s): %v", len(wired), sched.Tenants())
	sched.Start()
	<-ctx.Done()

	pterm.Info.Println("Stopping pulse, waiting for in-flight runs...")
	sched.Stop()
	pterm.Success.Println("Pulse stopped")
	return nil
}
