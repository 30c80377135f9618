// tangoctl is a diagnostic CLI for the coupler runtime's configuration and
// routing plan: validate that a config file and a local grid box resolve
// to a legal routing plan, or describe the resolved plan as JSON, without
// standing up a real multi-process run.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tango-coupler/tango"
	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/couplerlog"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/metrics"
	"github.com/tango-coupler/tango/pkg/route"
	"github.com/tango-coupler/tango/pkg/transport"
)

type gridFlags struct {
	configDir string
	gridName  string
	is, ie    int
	js, je    int
}

func (f *gridFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", ".", "directory containing config.yaml and weight files")
	cmd.Flags().StringVar(&f.gridName, "grid", "", "grid name, as declared in config.yaml (required)")
	cmd.Flags().IntVar(&f.is, "is", 0, "local box row start (inclusive)")
	cmd.Flags().IntVar(&f.ie, "ie", 0, "local box row end (exclusive)")
	cmd.Flags().IntVar(&f.js, "js", 0, "local box column start (inclusive)")
	cmd.Flags().IntVar(&f.je, "je", 0, "local box column end (exclusive)")
	cmd.MarkFlagRequired("grid")
	cmd.MarkFlagRequired("ie")
	cmd.MarkFlagRequired("je")
}

// initSingleRank builds a Coupler over a single-rank in-memory transport,
// treating --is/--ie/--js/--je as both the local and global box. Only
// this one rank takes part in the description exchange, so no rank
// describes any peer grid: a grid that names a peer grid (as destination
// or source) fails with a TopologyError before any weight file is loaded.
// What this mode does check is the config itself (declared grid, declared
// peer grids, field-tag collisions) and the local box.
func initSingleRank(f gridFlags) (*tango.Coupler, error) {
	box := grid.Box{IS: f.is, IE: f.ie, JS: f.js, JE: f.je}
	cluster := transport.NewMemoryCluster(1)
	c := tango.New(couplerlog.Nop(), false)
	if err := c.Init(context.Background(), cluster[0], f.configDir, f.gridName, box, box); err != nil {
		return nil, err
	}
	return c, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "tangoctl:", err)
	os.Exit(couplererr.ExitCode(err))
}

func newValidateCmd() *cobra.Command {
	var f gridFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the config and routing plan for one grid and report whether they resolve cleanly",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := initSingleRank(f)
			if err != nil {
				fail(err)
				return nil
			}
			defer c.Finalize()
			fmt.Printf("%s: ok, %d send route(s), %d recv route(s)\n",
				f.gridName, countRoutes(c.Plan().Send), countRoutes(c.Plan().Recv))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func countRoutes(m map[int][]route.PeerRoute) int {
	n := 0
	for _, routes := range m {
		n += len(routes)
	}
	return n
}

type describedRoute struct {
	PeerRank int     `json:"peer_rank"`
	Points   int     `json:"points"`
	MinWeight float64 `json:"min_weight"`
	MaxWeight float64 `json:"max_weight"`
}

type describedPlan struct {
	Grid   string                   `json:"grid"`
	Rank   int                      `json:"rank"`
	Local  grid.Box                 `json:"local"`
	Global grid.Box                 `json:"global"`
	Send   map[int][]describedRoute `json:"send"`
	Recv   map[int][]describedRoute `json:"recv"`
}

func describeRoutes(routes []route.PeerRoute) []describedRoute {
	out := make([]describedRoute, 0, len(routes))
	for _, r := range routes {
		min, max := 0.0, 0.0
		for i, w := range r.Weights {
			if i == 0 || w < min {
				min = w
			}
			if i == 0 || w > max {
				max = w
			}
		}
		out = append(out, describedRoute{PeerRank: r.Peer, Points: len(r.Points), MinWeight: min, MaxWeight: max})
	}
	return out
}

func newDescribeCmd() *cobra.Command {
	var f gridFlags
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the resolved routing plan for one grid as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := initSingleRank(f)
			if err != nil {
				fail(err)
				return nil
			}
			defer c.Finalize()

			plan := c.Plan()
			desc := describedPlan{
				Grid:   c.Grid().Name(),
				Rank:   c.Grid().Rank(),
				Local:  c.Grid().Local(),
				Global: c.Grid().Global(),
				Send:   make(map[int][]describedRoute, len(plan.Send)),
				Recv:   make(map[int][]describedRoute, len(plan.Recv)),
			}
			for id, routes := range plan.Send {
				desc.Send[id] = describeRoutes(routes)
			}
			for id, routes := range plan.Recv {
				desc.Recv[id] = describeRoutes(routes)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(desc)
		},
	}
	f.register(cmd)
	return cmd
}

func main() {
	metrics.Register()

	root := &cobra.Command{
		Use:   "tangoctl",
		Short: "Inspect coupler configuration and routing plans",
	}
	root.AddCommand(newValidateCmd(), newDescribeCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
