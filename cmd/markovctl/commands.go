package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"markovbrains/internal/config"
	"markovbrains/internal/storage"
	api "markovbrains/pkg/markovbrains"
)

type globalFlags struct {
	logLevel string
}

type storeFlags struct {
	kind         string
	dbPath       string
	artifactsDir string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "store", storage.DefaultStoreKind(), "run store backend: memory|badger|sqlite")
	cmd.Flags().StringVar(&f.dbPath, "db-path", "", "store path (badger directory or sqlite file)")
	cmd.Flags().StringVar(&f.artifactsDir, "out", "out", "artifacts directory")
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "markovctl",
		Short:         "Evolve and inspect Markov brain populations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	root.AddCommand(
		newEvolveCmd(&g),
		newInspectCmd(),
		newLineageCmd(&g),
		newRunsCmd(&g),
		newHistoryCmd(&g),
	)
	return root
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func newClient(cmd *cobra.Command, g *globalFlags, f storeFlags) (*api.Client, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), g.logLevel)
	if err != nil {
		return nil, err
	}
	return api.New(api.Options{
		StoreKind:    f.kind,
		DBPath:       f.dbPath,
		ArtifactsDir: f.artifactsDir,
		Logger:       logger,
	})
}

type evolveFlags struct {
	configPath string
	runID      string
}

func newEvolveCmd(g *globalFlags) *cobra.Command {
	var f evolveFlags
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Run evolution and write artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			effective, err := resolveConfig(cmd, f.configPath, cfg)
			if err != nil {
				return err
			}
			return runEvolve(cmd, g, f, effective)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML config file; explicit flags override it")
	fl.StringVar(&f.runID, "run-id", "", "run id (default: random uuid)")
	fl.StringVar(&cfg.Output.TaskOutput, "task-output", cfg.Output.TaskOutput, "file receiving per-agent task lines")
	fl.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "serve Prometheus metrics on this address while running")
	fl.StringVar(&cfg.Store.Kind, "store", cfg.Store.Kind, "run store backend: memory|badger|sqlite")
	fl.StringVar(&cfg.Store.Path, "db-path", cfg.Store.Path, "store path (badger directory or sqlite file)")
	fl.StringVar(&cfg.Output.Dir, "out", cfg.Output.Dir, "artifacts directory")

	fl.StringVar(&cfg.Evolution.Task, "task", cfg.Evolution.Task, "task: constant|simon|xor")
	fl.IntVar(&cfg.Evolution.Population, "population", cfg.Evolution.Population, "population size")
	fl.IntVar(&cfg.Evolution.Generations, "generations", cfg.Evolution.Generations, "generations to run")
	fl.IntVar(&cfg.Evolution.Workers, "workers", cfg.Evolution.Workers, "parallel evaluation workers")
	fl.Int64Var(&cfg.Evolution.Seed, "seed", cfg.Evolution.Seed, "random seed (0: time based)")
	fl.Float64Var(&cfg.Rates.Mutation, "mutation", cfg.Rates.Mutation, "per byte point mutation rate")
	fl.Float64Var(&cfg.Rates.Duplication, "duplication", cfg.Rates.Duplication, "segment duplication probability")
	fl.Float64Var(&cfg.Rates.Deletion, "deletion", cfg.Rates.Deletion, "segment deletion probability")
	fl.Float64Var(&cfg.Rates.SeedMutation, "seed-mutation", cfg.Rates.SeedMutation, "mutation rate applied when copying the seed genome")
	fl.IntVar(&cfg.Genome.Length, "genome-length", cfg.Genome.Length, "length of a generated seed genome")
	fl.StringVar(&cfg.Genome.SeedPath, "seed-genome", cfg.Genome.SeedPath, "load the seed genome from a file")
	fl.BoolVar(&cfg.Genome.SeedHasID, "seed-genome-has-id", cfg.Genome.SeedHasID, "seed genome file starts with an agent id")
	fl.BoolVar(&cfg.Genome.Probabilistic, "probabilistic", cfg.Genome.Probabilistic, "decode probabilistic gates")
	fl.BoolVar(&cfg.Genome.IdentityNodeMap, "identity-node-map", cfg.Genome.IdentityNodeMap, "start the node map at identity instead of zero")
	fl.IntVar(&cfg.Output.CheckpointEvery, "checkpoint-every", cfg.Output.CheckpointEvery, "write a checkpoint genome every N generations (0: off)")
	fl.IntVar(&cfg.Output.LogEvery, "log-every", cfg.Output.LogEvery, "log a summary every N generations")
	return cmd
}

// resolveConfig loads the config file, if any, and lets explicitly set flags
// win over it.
func resolveConfig(cmd *cobra.Command, path string, flags config.Config) (config.Config, error) {
	if path == "" {
		return flags, flags.Validate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	override := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	override("task", func() { cfg.Evolution.Task = flags.Evolution.Task })
	override("population", func() { cfg.Evolution.Population = flags.Evolution.Population })
	override("generations", func() { cfg.Evolution.Generations = flags.Evolution.Generations })
	override("workers", func() { cfg.Evolution.Workers = flags.Evolution.Workers })
	override("seed", func() { cfg.Evolution.Seed = flags.Evolution.Seed })
	override("mutation", func() { cfg.Rates.Mutation = flags.Rates.Mutation })
	override("duplication", func() { cfg.Rates.Duplication = flags.Rates.Duplication })
	override("deletion", func() { cfg.Rates.Deletion = flags.Rates.Deletion })
	override("seed-mutation", func() { cfg.Rates.SeedMutation = flags.Rates.SeedMutation })
	override("genome-length", func() { cfg.Genome.Length = flags.Genome.Length })
	override("seed-genome", func() { cfg.Genome.SeedPath = flags.Genome.SeedPath })
	override("seed-genome-has-id", func() { cfg.Genome.SeedHasID = flags.Genome.SeedHasID })
	override("probabilistic", func() { cfg.Genome.Probabilistic = flags.Genome.Probabilistic })
	override("identity-node-map", func() { cfg.Genome.IdentityNodeMap = flags.Genome.IdentityNodeMap })
	override("checkpoint-every", func() { cfg.Output.CheckpointEvery = flags.Output.CheckpointEvery })
	override("log-every", func() { cfg.Output.LogEvery = flags.Output.LogEvery })
	override("task-output", func() { cfg.Output.TaskOutput = flags.Output.TaskOutput })
	override("out", func() { cfg.Output.Dir = flags.Output.Dir })
	override("store", func() { cfg.Store.Kind = flags.Store.Kind })
	override("db-path", func() { cfg.Store.Path = flags.Store.Path })
	override("metrics-addr", func() { cfg.Metrics.Addr = flags.Metrics.Addr })
	return cfg, cfg.Validate()
}

func runEvolve(cmd *cobra.Command, g *globalFlags, f evolveFlags, cfg config.Config) error {
	ctx := cmd.Context()
	client, err := newClient(cmd, g, storeFlags{
		kind:         cfg.Store.Kind,
		dbPath:       cfg.Store.Path,
		artifactsDir: cfg.Output.Dir,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Metrics.Addr != "" {
		stop, err := serveMetrics(cfg.Metrics.Addr, client.Metrics().Handler())
		if err != nil {
			return err
		}
		defer stop()
	}

	req := api.RunRequestFromConfig(cfg)
	req.RunID = f.runID
	if cfg.Output.TaskOutput != "" {
		out, err := os.Create(cfg.Output.TaskOutput)
		if err != nil {
			return err
		}
		defer out.Close()
		req.TaskOutput = out
	}

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run_id=%s seed=%d generations=%d best_fitness=%f best_agent=%d lineage=%d\n",
		summary.RunID, summary.Seed, summary.Generations, summary.BestFitness, summary.BestAgentID, summary.LineageLength)
	fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
	if summary.BestGenomePath != "" {
		fmt.Fprintf(out, "best_genome=%s\n", summary.BestGenomePath)
	}
	if n := len(summary.CheckpointPaths); n > 0 {
		fmt.Fprintf(out, "checkpoints=%d last_checkpoint=%s\n", n, summary.CheckpointPaths[n-1])
	}
	if summary.FallbackGenerations > 0 {
		fmt.Fprintf(out, "uniform_fallback_generations=%d\n", summary.FallbackGenerations)
	}
	return nil
}

func serveMetrics(addr string, handler http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func newInspectCmd() *cobra.Command {
	var req api.InspectRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <genome-file>",
		Short: "Decode a genome file and summarize its circuit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Path = args[0]
			summary, err := api.Inspect(req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Fprintf(out, "length=%d gates=%d deterministic=%d probabilistic=%d connected_slots=%d remapped_slots=%d coding_bytes=%d\n",
				summary.Length, len(summary.Gates), summary.Deterministic, summary.Probabilistic,
				summary.ConnectedSlots, summary.RemappedSlots, summary.CodingBytes)
			for i, gate := range summary.Gates {
				fmt.Fprintf(out, "gate %d %s in=%s out=%s bytes=%d\n", i, gate.Kind, joinInts(gate.Inputs), joinInts(gate.Outputs), gate.GeneBytes)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&req.WithID, "with-id", false, "genome file starts with an agent id")
	cmd.Flags().BoolVar(&req.ProbabilisticGates, "probabilistic", false, "decode probabilistic gates")
	cmd.Flags().BoolVar(&req.IdentityNodeMap, "identity-node-map", false, "start the node map at identity instead of zero")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newLineageCmd(g *globalFlags) *cobra.Command {
	var f storeFlags
	var req api.LineageRequest
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Print the stored line of descent of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(cmd, g, f)
			if err != nil {
				return err
			}
			defer client.Close()

			records, err := client.Lineage(cmd.Context(), req)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "agent\tparent\tborn\tlength\tfitness\tbest_steps\tcorrect\tincorrect")
			for _, r := range records {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%f\t%d\t%d\t%d\n",
					r.AgentID, r.ParentID, r.Born, r.GenomeLength, r.Fitness, r.BestSteps, r.Correct, r.Incorrect)
			}
			return tw.Flush()
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "use the most recent run in the artifacts index")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum records to print (0: all)")
	return cmd
}

func newRunsCmd(g *globalFlags) *cobra.Command {
	var f storeFlags
	var fromIndex bool
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(cmd, g, f)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if fromIndex {
				entries, err := client.RunIndex(limit)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%s\t%s\ttask=%s population=%d generations=%d seed=%d best=%f\n",
						e.RunID, e.CreatedAtUTC, e.Task, e.PopulationSize, e.Generations, e.Seed, e.FinalBestFitness)
				}
				return nil
			}

			runs, err := client.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			for _, id := range runs {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&fromIndex, "index", false, "list the artifacts index instead of the store")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum runs to list (0: all)")
	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var f storeFlags
	var runID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the recorded configuration and fitness history of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return errors.New("history requires --run-id")
			}
			client, err := newClient(cmd, g, f)
			if err != nil {
				return err
			}
			defer client.Close()

			cfg, err := client.RunConfig(runID)
			if err != nil {
				return err
			}
			history, err := client.FitnessHistory(cmd.Context(), runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id=%s task=%s population=%d generations=%d seed=%d store=%s\n",
				cfg.RunID, cfg.Task, cfg.PopulationSize, cfg.Generations, cfg.Seed, cfg.Store)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "generation\tmax\tmean\tmin\tlength\tgates\tfallback")
			for _, s := range history {
				fmt.Fprintf(tw, "%d\t%f\t%f\t%f\t%.1f\t%.2f\t%t\n",
					s.Generation, s.MaxFitness, s.MeanFitness, s.MinFitness, s.MeanGenomeLength, s.MeanGates, s.UniformFallback)
			}
			return tw.Flush()
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	return cmd
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
