package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/resourcewatch/am"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

// RunCmd performs one manual check per tenant and exits.
var RunCmd = &cobra.Command{
	Use:   "run [tenant...]",
	Short: "Run one check for each tenant",
	Long: `Run a single manual check for the named tenants, or every configured
tenant when none are named, then print a summary.

Tenants run concurrently. The command exits non-zero when any run failed
or every queued resource of a run errored.

Examples:
  rw run                 # Check every tenant
  rw run acme globex     # Check two tenants
  rw run -o json         # Machine readable summary`,
	RunE: runRun,
}

func init() {
	addOutputFlag(RunCmd)
}

// runResult is the printable outcome of one tenant run.
type runResult struct {
	RunID      string         `json:"run_id"`
	Tenant     string         `json:"tenant"`
	Phase      string         `json:"phase"`
	ElapsedMS  int64          `json:"elapsed_ms"`
	Found      int            `json:"found"`
	Queued     int            `json:"queued"`
	Classified map[string]int `json:"classified"`
	Results    map[string]int `json:"results"`
	Error      string         `json:"error,omitempty"`
	failed     bool
}

func newRunResult(s *watch.RunSummary) runResult {
	r := runResult{
		RunID:      s.RunID,
		Tenant:     s.Tenant,
		Phase:      string(s.Phase),
		ElapsedMS:  s.Elapsed.Milliseconds(),
		Found:      s.Found,
		Queued:     s.Queued,
		Classified: make(map[string]int, len(s.Classified)),
		Results:    make(map[string]int, len(s.Results)),
		failed:     s.Failed() || s.AllFailed(),
	}
	for pt, n := range s.Classified {
		r.Classified[pt.String()] = n
	}
	for rt, n := range s.Results {
		r.Results[rt.String()] = n
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	return r
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
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

	summaries := make([]*watch.RunSummary, len(wired))
	g := new(errgroup.Group)
	for i, tw := range wired {
		g.Go(func() error {
			// Run failures are reported through the summary.
			summaries[i], _ = tw.watcher.RunOnce(ctx, watch.RunManual)
			return nil
		})
	}
	_ = g.Wait()

	return reportRuns(ctx, format, summaries)
}

func reportRuns(ctx context.Context, format string, summaries []*watch.RunSummary) error {
	results := make([]runResult, 0, len(summaries))
	rows := make([][]string, 0, len(summaries))
	failed := 0
	for _, s := range summaries {
		r := newRunResult(s)
		if r.failed {
			failed++
		}
		results = append(results, r)
		rows = append(rows, []string{
			r.Tenant,
			r.Phase,
			itoa(r.Found),
			itoa(r.Queued),
			itoa(s.Results[watch.ResultNormal]),
			itoa(s.Results[watch.ResultNoNewData]),
			itoa(s.Results[watch.ResultNoAction]),
			itoa(s.Results[watch.ResultError]),
			itoa(s.Results[watch.ResultSkipped]),
			formatDuration(s.Elapsed),
			r.Error,
		})
	}

	header := []string{"Tenant", "Phase", "Found", "Queued", "Normal", "NoNewData", "NoAction", "Error", "Skipped", "Elapsed", "Failure"}
	if err := render(format, header, rows, results); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return errors.New("interrupted")
	}
	if failed > 0 {
		if format == outputTable {
			pterm.Error.Printfln("%d of %d runs failed", failed, len(summaries))
		}
		return errors.Newf("%d of %d runs failed", failed, len(summaries))
	}
	return nil
}
