package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/CTAG07/markovian/pkg/markov"
)

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// openInput opens a named file, or stdin for "" and "-".
func openInput(name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

// findModel looks a model up by name with a friendly error when it is missing.
func findModel(ctx context.Context, a *app, name string) (markov.ModelInfo, error) {
	model, err := a.store.GetModelInfo(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return markov.ModelInfo{}, fmt.Errorf("model %q not found", name)
	}
	return model, err
}

var trainMode string

var trainCmd = &cobra.Command{
	Use:   "train NAME [FILE]",
	Short: "Build a chain from a file or stdin and store it",
	Long: `Build a chain from a file (or stdin when FILE is omitted or "-") and store it
under NAME, replacing any model already stored with that name.

In words mode the input is split into sentences and each sentence contributes
its own transitions; the first word of every sentence may start a generated
sequence. In bytes mode the input is one continuous sequence of bytes.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var file string
		if len(args) == 2 {
			file = args[1]
		}
		input, err := openInput(file)
		if err != nil {
			return err
		}
		defer func() { _ = input.Close() }()

		counter := &countingReader{r: input}
		start := time.Now()
		loaded, err := trainModel(cmd.Context(), a.store, args[0], trainMode, counter)
		if err != nil {
			return err
		}

		stats := loaded.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "Trained %s model %q from %s in %s: %s tokens, %s seed tokens, %s transitions\n",
			loaded.Info().Kind, loaded.Info().Name,
			humanize.Bytes(uint64(counter.n)), time.Since(start).Round(time.Millisecond),
			humanize.Comma(int64(stats.VocabSize)), humanize.Comma(int64(stats.SeedTokens)), humanize.Comma(int64(stats.Transitions)))
		return nil
	},
}

var (
	genCount       int
	genMin, genMax int
	genTemperature float64
	genTopK        int
	genStart       string
)

var generateCmd = &cobra.Command{
	Use:   "generate NAME",
	Short: "Generate sequences from a stored model",
	Long: `Generate sequences by random walks over a stored model. Each walk starts at a
random seed token (or at --start) and takes between --min and --max steps, so a
sequence holds up to max+1 tokens. Word sequences are printed as sentences, one
per line.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		defaults := a.config.Generation
		if !cmd.Flags().Changed("min") {
			genMin = defaults.MinLength
		}
		if !cmd.Flags().Changed("max") {
			genMax = defaults.MaxLength
		}
		if !cmd.Flags().Changed("temperature") {
			genTemperature = defaults.Temperature
		}
		if !cmd.Flags().Changed("top-k") {
			genTopK = defaults.TopK
		}
		if genMax > defaults.LengthLimit {
			return fmt.Errorf("--max %d exceeds length_limit %d", genMax, defaults.LengthLimit)
		}

		model, err := findModel(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		loaded, err := loadModel(cmd.Context(), a.store, model)
		if err != nil {
			return err
		}

		sequences, err := loaded.Generate(GenerateRequest{
			Count:   genCount,
			Bounds:  markov.Bounds{Min: genMin, Max: genMax},
			Start:   genStart,
			Options: []markov.GenerateOption{markov.WithTemperature(genTemperature), markov.WithTopK(genTopK)},
		})
		if err != nil {
			return err
		}
		for _, s := range sequences {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

var steadyTop int

var steadyCmd = &cobra.Command{
	Use:   "steady NAME",
	Short: "Estimate the stationary distribution of a stored model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !cmd.Flags().Changed("top") {
			steadyTop = a.config.Generation.SteadyTop
		}
		model, err := findModel(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		loaded, err := loadModel(cmd.Context(), a.store, model)
		if err != nil {
			return err
		}

		result := loaded.Steady(steadyTop)
		out := cmd.OutOrStdout()
		status := "converged"
		if !result.Converged {
			status = "not converged"
		}
		fmt.Fprintf(out, "%s after %d iterations (residual %.3g)\n", status, result.Iterations, result.Residual)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tPROBABILITY")
		for _, t := range result.Tokens {
			fmt.Fprintf(tw, "%q\t%.6f\n", t.Token, t.Probability)
		}
		return tw.Flush()
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List stored models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		models, err := a.store.GetModelInfos(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tKIND\tTOKENS")
		for _, m := range sortedModels(models) {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Id, m.Name, m.Kind, humanize.Comma(int64(m.Size)))
		}
		return tw.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s models, %s vocabulary entries, %s transitions\n",
			humanize.Comma(int64(len(stats.Models))), humanize.Comma(int64(stats.VocabSize)), humanize.Comma(int64(stats.Transitions)))
		if fi, err := os.Stat(a.config.Server.DatabasePath); err == nil {
			fmt.Fprintf(out, "database size: %s\n", humanize.Bytes(uint64(fi.Size())))
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tTOKENS\tSEEDS\tTRANSITIONS")
		for _, m := range stats.Models {
			s := stats.Stats[m.Id]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Name, m.Kind,
				humanize.Comma(int64(m.Size)), humanize.Comma(int64(s.SeedTokens)), humanize.Comma(int64(s.Transitions)))
		}
		return tw.Flush()
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export NAME",
	Short: "Write a stored model as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		model, err := findModel(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		if exportOut == "" || exportOut == "-" {
			return a.store.ExportModel(cmd.Context(), model, cmd.OutOrStdout())
		}

		var buf bytes.Buffer
		if err = a.store.ExportModel(cmd.Context(), model, &buf); err != nil {
			return err
		}
		size := buf.Len()
		if err = atomic.WriteFile(exportOut, &buf); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported model %q to %s (%s)\n", model.Name, exportOut, humanize.Bytes(uint64(size)))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [FILE]",
	Short: "Store a model previously written by export",
	Long:  `Store a model read from FILE (or stdin), replacing any model with the same name.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var file string
		if len(args) == 1 {
			file = args[0]
		}
		input, err := openInput(file)
		if err != nil {
			return err
		}
		defer func() { _ = input.Close() }()

		model, err := a.store.ImportModel(cmd.Context(), input)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s model %q with %s tokens\n", model.Kind, model.Name, humanize.Comma(int64(model.Size)))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Delete a stored model",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		model, err := findModel(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		return a.store.RemoveModel(cmd.Context(), model)
	},
}

var pruneMinWeight float64

var pruneCmd = &cobra.Command{
	Use:   "prune NAME",
	Short: "Drop unlikely transitions from a stored model",
	Long: `Drop every transition whose probability is below --min-weight and rescale the
remaining transitions of each affected row. Rows whose transitions are all below
the threshold are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneMinWeight <= 0 || pruneMinWeight > 1 {
			return fmt.Errorf("--min-weight must be in (0, 1], got %g", pruneMinWeight)
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		model, err := findModel(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		_, removed, err := a.store.PruneModel(cmd.Context(), model, pruneMinWeight)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s transitions from %q\n", humanize.Comma(int64(removed)), model.Name)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "markovian %s\n", Version)
		fmt.Fprintf(out, "Git Commit: %s\n", Commit)
		fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
		fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	trainCmd.Flags().StringVarP(&trainMode, "mode", "m", modeWords, "tokenization mode: words or bytes")

	generateCmd.Flags().IntVarP(&genCount, "count", "n", 1, "number of sequences to generate")
	generateCmd.Flags().IntVar(&genMin, "min", 0, "minimum number of steps per walk (default from config)")
	generateCmd.Flags().IntVar(&genMax, "max", 0, "maximum number of steps per walk (default from config)")
	generateCmd.Flags().Float64VarP(&genTemperature, "temperature", "t", 1.0, "sampling temperature; 0 always picks the most likely token")
	generateCmd.Flags().IntVarP(&genTopK, "top-k", "k", 0, "only sample from the k most likely tokens (0 disables)")
	generateCmd.Flags().StringVarP(&genStart, "start", "s", "", "start every walk at this token instead of a seed token")

	steadyCmd.Flags().IntVar(&steadyTop, "top", 0, "show only the N most likely tokens (0 shows all)")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to this file instead of stdout")

	pruneCmd.Flags().Float64Var(&pruneMinWeight, "min-weight", 0.01, "drop transitions with a lower probability")

	rootCmd.AddCommand(trainCmd, generateCmd, steadyCmd, modelsCmd, statsCmd,
		exportCmd, importCmd, removeCmd, pruneCmd, versionCmd)
}
