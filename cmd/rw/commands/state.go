package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/resourcewatch/am"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/state"
	"github.com/teranos/resourcewatch/watch"
)

// StateCmd inspects and edits persisted resource state.
var StateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect persisted resource state",
	Long: `Inspect and reset the per-resource state the watcher keeps between runs.

Resetting a resource clears its checksum, retry count and ban, so the next
run treats it as new.

Examples:
  rw state ls acme                    # List state of every acme resource
  rw state get acme reports/q3.csv    # Show one resource
  rw state reset acme reports/q3.csv  # Forget one resource
  rw state reset acme --all           # Forget every acme resource`,
}

var stateLsCmd = &cobra.Command{
	Use:   "ls <tenant>",
	Short: "List resource state of a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateLs,
}

var stateGetCmd = &cobra.Command{
	Use:   "get <tenant> <resource-id>",
	Short: "Show the state of one resource",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateGet,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset <tenant> [resource-id...]",
	Short: "Delete resource state so it is processed again",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStateReset,
}

func init() {
	addOutputFlag(stateLsCmd)
	addOutputFlag(stateGetCmd)
	stateResetCmd.Flags().Bool("all", false, "Reset every resource of the tenant")

	StateCmd.AddCommand(stateLsCmd)
	StateCmd.AddCommand(stateGetCmd)
	StateCmd.AddCommand(stateResetCmd)
}

// withStore opens the state store of a configured tenant.
func withStore(cmd *cobra.Command, tenant string, fn func(store state.Admin) error) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	h, err := openHost(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	tenants, err := h.tenants([]string{tenant})
	if err != nil {
		return err
	}
	if tenants[0].StoreKind() == am.StoreMemory {
		pterm.Warning.Printfln("Tenant %s uses the in-memory store; state does not outlive a process", tenant)
	}
	store, err := h.store(tenants[0])
	if err != nil {
		return err
	}
	return fn(store)
}

// stateView is the printable form of a ResourceState.
type stateView struct {
	ResourceID  string         `json:"resource_id"`
	Checksum    string         `json:"checksum"`
	Modified    string         `json:"modified"`
	RetryCount  int            `json:"retry_count"`
	BannedUntil string         `json:"banned_until,omitempty"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

func newStateView(st *watch.ResourceState) stateView {
	v := stateView{
		ResourceID: st.ResourceID,
		Checksum:   st.Checksum,
		Modified:   formatTime(&st.Modified),
		RetryCount: st.RetryCount,
		Extensions: st.Extensions,
	}
	if st.BannedUntil != nil {
		v.BannedUntil = formatTime(st.BannedUntil)
	}
	return v
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func runStateLs(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	return withStore(cmd, args[0], func(store state.Admin) error {
		states, err := store.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		views := make([]stateView, 0, len(states))
		rows := make([][]string, 0, len(states))
		for _, st := range states {
			v := newStateView(st)
			views = append(views, v)
			rows = append(rows, []string{v.ResourceID, shortChecksum(v.Checksum), v.Modified, itoa(v.RetryCount), formatTime(st.BannedUntil)})
		}
		return render(format, []string{"Resource", "Checksum", "Modified", "Retries", "Banned until"}, rows, views)
	})
}

func runStateGet(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	tenant, id := args[0], args[1]
	return withStore(cmd, tenant, func(store state.Admin) error {
		st, err := store.Get(cmd.Context(), tenant, id)
		if err != nil {
			return err
		}
		if st == nil {
			return errors.NewNotFoundError("no state for %s/%s", tenant, id)
		}
		v := newStateView(st)
		rows := [][]string{
			{"Resource", v.ResourceID},
			{"Checksum", v.Checksum},
			{"Modified", v.Modified},
			{"Retries", itoa(v.RetryCount)},
			{"Banned until", formatTime(st.BannedUntil)},
		}
		for k, val := range v.Extensions {
			rows = append(rows, []string{"ext." + k, pterm.Sprint(val)})
		}
		return render(format, []string{"Field", "Value"}, rows, v)
	})
}

func runStateReset(cmd *cobra.Command, args []string) error {
	tenant, ids := args[0], args[1:]
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(ids) > 0) {
		return errors.NewInvalidRequestError("name resource ids or pass --all, not both")
	}

	return withStore(cmd, tenant, func(store state.Admin) error {
		if all {
			states, err := store.List(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			for _, st := range states {
				ids = append(ids, st.ResourceID)
			}
		}
		for _, id := range ids {
			if err := store.Delete(cmd.Context(), tenant, id); err != nil {
				return errors.Wrapf(err, "reset %s", id)
			}
		}
		pterm.Success.Printfln("Reset %d resource(s) of tenant %s", len(ids), tenant)
		return nil
	})
}
