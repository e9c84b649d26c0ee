package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"

	"gonum.org/v1/gonum/spatial/r3"

	"voxelcarve/internal/models"
	"voxelcarve/internal/monitoring"
	"voxelcarve/pkg/config"
	"voxelcarve/pkg/gridio"
	"voxelcarve/pkg/reconstruction"
)

// Exit codes by error class.
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitLoad          = 3
	exitIO            = 4
)

const usage = `usage: voxelcarve [carve] [flags]
       voxelcarve init-config [-config path] [-force]
       voxelcarve inspect file.vtr
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := "carve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "carve":
		err = carve(ctx, args, stdout, stderr)
	case "init-config":
		err = initConfig(args, stdout, stderr)
	case "inspect":
		err = inspect(args, stdout, stderr)
	case "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", cmd, usage)
		return exitConfiguration
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "voxelcarve %s: %v\n", cmd, err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, models.ErrConfiguration):
		return exitConfiguration
	case errors.Is(err, models.ErrLoad):
		return exitLoad
	case errors.Is(err, models.ErrIO):
		return exitIO
	}
	return exitFailure
}

func carve(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("carve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "voxelcarve.yaml", "Configuration file (defaults are used when it does not exist)")
	projections := fs.String("projections", "", "Projection matrices file (.mat, .yaml or .json)")
	projectionVar := fs.String("projection-var", "", "MAT-file variable holding the matrices")
	images := fs.String("images", "", "Directory or .zip archive of view images")
	output := fs.String("output", "", "Output .vtr file")
	resolution := fs.Int("resolution", 0, "Lattice samples per axis")
	cutoff := fs.Float64("cutoff", 0, "Votes a voxel must exceed to be occupied")
	numCores := fs.Int("cores", runtime.NumCPU(), "Number of CPU cores to use")
	encoding := fs.String("encoding", "", "Grid encoding: ascii or binary")
	order := fs.String("order", "", "Scalar order: lattice or vtk")
	saveIntermediary := fs.Bool("save-intermediary", false, "Save silhouettes, occupancy slices and the vote histogram")
	intermediaryDir := fs.String("intermediary-dir", "", "Directory to save intermediary results")
	summary := fs.String("summary", "", "Write the run summary as YAML to this file")
	quiet := fs.Bool("quiet", false, "Suppress progress logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	// Flags given explicitly override the file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "projections":
			cfg.Input.Projections = *projections
		case "projection-var":
			cfg.Input.ProjectionVar = *projectionVar
		case "images":
			cfg.Input.ImagesDir = *images
		case "output":
			cfg.Output.File = *output
		case "resolution":
			cfg.Lattice.Resolution = *resolution
		case "cutoff":
			cfg.Carving.Cutoff = *cutoff
		case "cores":
			cfg.Carving.NumWorkers = *numCores
		case "encoding":
			cfg.Output.Encoding = *encoding
		case "order":
			cfg.Output.Order = *order
		case "save-intermediary":
			cfg.Output.SaveIntermediaryResults = *saveIntermediary
		case "intermediary-dir":
			cfg.Output.IntermediaryDir = *intermediaryDir
		case "summary":
			cfg.Output.SummaryFile = *summary
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *quiet || !cfg.Output.Verbose {
		monitoring.SetLogger(nil)
	} else {
		monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)
	}

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "SHAPE FROM SILHOUETTE VOXEL CARVING")
	fmt.Fprintln(stdout, "================================")

	reconstructor := reconstruction.NewReconstructor(reconstruction.ParamsFromConfig(cfg))
	if err := reconstructor.Process(ctx); err != nil {
		return err
	}

	m := reconstructor.GetMetrics()
	fmt.Fprintf(stdout, "\nCarve completed successfully in %.2f seconds!\n", m.TotalTime.Seconds())
	fmt.Fprintf(stdout, "Occupancy grid saved to: %s\n\n", m.OutputFile)
	fmt.Fprintf(stdout, "Run summary (%s):\n", m.RunID)
	fmt.Fprintf(stdout, "- Views: %d (%dx%d)\n", m.Views, m.ImageWidth, m.ImageHeight)
	fmt.Fprintf(stdout, "- Lattice: %d^3 = %d voxels\n", m.Resolution, m.Voxels)
	fmt.Fprintf(stdout, "- Mean silhouette coverage: %.1f%%\n", 100*m.ForegroundFraction)
	fmt.Fprintf(stdout, "- Votes: mean %.3f, stddev %.3f, max %.0f\n", m.VoteMean, m.VoteStdDev, m.VoteMax)
	fmt.Fprintf(stdout, "- Occupied: %d (%.2f%%) with cutoff %g\n", m.Occupied, 100*m.OccupiedFraction, m.Cutoff)
	fmt.Fprintf(stdout, "- Lattice bounds: %s\n", formatBox(m.LatticeBounds))
	if m.Occupied > 0 {
		fmt.Fprintf(stdout, "- Occupied bounds: %s\n", formatBox(m.OccupiedBounds))
	}
	fmt.Fprintf(stdout, "- Time: load %v, silhouettes %v, carve %v, write %v\n", m.LoadTime, m.SilhouetteTime, m.CarveTime, m.WriteTime)

	if cfg.Output.SaveIntermediaryResults {
		fmt.Fprintf(stdout, "\nIntermediary results saved to: %s\n", cfg.Output.IntermediaryDir)
	}
	if cfg.Output.SummaryFile != "" {
		if err := reconstruction.WriteSummary(m, cfg.Output.SummaryFile); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Summary written to: %s\n", cfg.Output.SummaryFile)
	}
	return nil
}

func formatBox(b r3.Box) string {
	return fmt.Sprintf("x [%g, %g], y [%g, %g], z [%g, %g]", b.Min.X, b.Max.X, b.Min.Y, b.Max.Y, b.Min.Z, b.Max.Z)
}

func initConfig(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "voxelcarve.yaml", "Configuration file to create")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}

	if _, err := os.Stat(*configPath); err == nil && !*force {
		return fmt.Errorf("%w: %s already exists (use -force to overwrite)", models.ErrConfiguration, *configPath)
	}
	if err := config.CreateDefaultConfigFile(*configPath); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	fmt.Fprintf(stdout, "Default configuration written to %s\n", *configPath)
	return nil
}

func inspect(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: inspect takes exactly one .vtr file", models.ErrConfiguration)
	}

	g, err := gridio.Read(fs.Arg(0))
	if err != nil {
		return err
	}
	nx, ny, nz := g.Dims()
	total := nx * ny * nz
	if total == 0 {
		return fmt.Errorf("%w: %s holds an empty grid", models.ErrLoad, fs.Arg(0))
	}
	fmt.Fprintf(stdout, "File: %s\n", fs.Arg(0))
	fmt.Fprintf(stdout, "Dimensions: %d x %d x %d (%d points)\n", nx, ny, nz, total)
	fmt.Fprintf(stdout, "Extent: x [%g, %g], y [%g, %g], z [%g, %g]\n",
		g.X[0], g.X[nx-1], g.Y[0], g.Y[ny-1], g.Z[0], g.Z[nz-1])
	fmt.Fprintf(stdout, "Field: %s\n", g.Name)
	fmt.Fprintf(stdout, "Occupied: %d (%.2f%%)\n", g.NonZero(), 100*float64(g.NonZero())/float64(total))
	return nil
}
