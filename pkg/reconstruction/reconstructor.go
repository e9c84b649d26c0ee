// Package reconstruction runs the full shape-from-silhouette pipeline: it
// loads the projection matrices and view images, extracts silhouettes,
// carves the voxel lattice, thresholds the votes and writes the occupancy
// grid.
package reconstruction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"voxelcarve/internal/models"
	"voxelcarve/internal/monitoring"
	"voxelcarve/pkg/carving"
	"voxelcarve/pkg/config"
	"voxelcarve/pkg/dataset"
	"voxelcarve/pkg/gridio"
	"voxelcarve/pkg/lattice"
	"voxelcarve/pkg/projection"
	"voxelcarve/pkg/silhouette"
	"voxelcarve/pkg/visualization"
)

// CarveMetrics summarizes one pipeline run.
type CarveMetrics struct {
	// RunID identifies the run in logs and summary files
	RunID string `yaml:"runId"`

	Views       int `yaml:"views"`
	ImageWidth  int `yaml:"imageWidth"`
	ImageHeight int `yaml:"imageHeight"`
	Resolution  int `yaml:"resolution"`
	Voxels      int `yaml:"voxels"`

	// LatticeBounds spans the voxel centers of the carved lattice
	LatticeBounds r3.Box `yaml:"latticeBounds"`

	// ForegroundFraction is the mean share of silhouette pixels marked foreground
	ForegroundFraction float64 `yaml:"foregroundFraction"`

	Cutoff           float64 `yaml:"cutoff"`
	Occupied         int     `yaml:"occupied"`
	OccupiedFraction float64 `yaml:"occupiedFraction"`

	// OccupiedBounds spans the centers of the occupied voxels. It is the
	// zero box when nothing is occupied.
	OccupiedBounds r3.Box `yaml:"occupiedBounds"`

	// Vote statistics over all voxels
	VoteMean   float64 `yaml:"voteMean"`
	VoteStdDev float64 `yaml:"voteStdDev"`
	VoteMax    float64 `yaml:"voteMax"`

	LoadTime       time.Duration `yaml:"loadTime"`
	SilhouetteTime time.Duration `yaml:"silhouetteTime"`
	CarveTime      time.Duration `yaml:"carveTime"`
	WriteTime      time.Duration `yaml:"writeTime"`
	TotalTime      time.Duration `yaml:"totalTime"`

	OutputFile string `yaml:"outputFile"`
}

// Params holds the pipeline configuration.
type Params struct {
	// ProjectionsFile holds one 3x4 matrix per view (.mat, .yaml or .json)
	ProjectionsFile string

	// ProjectionVar is the MAT-file variable holding the matrices
	ProjectionVar string

	// ImagesDir is a directory or .zip archive of view images. Images are
	// matched to matrices by lexicographic file name order.
	ImagesDir string

	// OutputFile is the destination .vtr grid
	OutputFile string

	// NumCores bounds the goroutines used for decoding, extraction and carving
	NumCores int

	Lattice    lattice.Params
	Silhouette silhouette.Params

	// Cutoff is the vote count a voxel must strictly exceed to be occupied
	Cutoff float64

	Grid gridio.WriteOptions

	// SaveIntermediaryResults writes silhouettes, occupancy slices and the
	// vote histogram to IntermediaryDir after a successful carve
	SaveIntermediaryResults bool
	IntermediaryDir         string
}

// ParamsFromConfig maps a validated configuration onto pipeline parameters.
func ParamsFromConfig(cfg *config.Config) *Params {
	return &Params{
		ProjectionsFile: cfg.Input.Projections,
		ProjectionVar:   cfg.Input.ProjectionVar,
		ImagesDir:       cfg.Input.ImagesDir,
		OutputFile:      cfg.Output.File,
		NumCores:        cfg.Carving.NumWorkers,
		Lattice: lattice.Params{
			Resolution: cfg.Lattice.Resolution,
			Scale:      cfg.Lattice.Scale,
			ZOffset:    cfg.Lattice.ZOffset,
		},
		Silhouette: silhouette.Params{
			KeyColor:    cfg.Silhouette.KeyColor,
			Tolerance:   cfg.Silhouette.Tolerance,
			KernelSize:  cfg.Silhouette.KernelSize,
			MaskChannel: cfg.Silhouette.MaskChannel,
		},
		Cutoff: cfg.Carving.Cutoff,
		Grid: gridio.WriteOptions{
			Encoding: cfg.Output.Encoding,
			Order:    cfg.Output.Order,
		},
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
	}
}

// Reconstructor runs the carve pipeline once.
//
// The pipeline consists of:
// 1. Loading the projection matrices
// 2. Loading the view images
// 3. Extracting silhouettes
// 4. Building the voxel lattice
// 5. Carving and thresholding
// 6. Writing the occupancy grid
type Reconstructor struct {
	params *Params

	projections *projection.Set
	views       []*models.View
	silhouettes []*models.Silhouette
	lattice     *lattice.Lattice
	votes       carving.Votes
	occupancy   *carving.Occupancy

	metrics CarveMetrics
}

// NewReconstructor creates a reconstructor for params.
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{
		params:  params,
		metrics: CarveMetrics{RunID: uuid.NewString()},
	}
}

// Process runs the complete pipeline. Any failure aborts the run and no
// output file is left behind.
func (r *Reconstructor) Process(ctx context.Context) error {
	start := time.Now()
	monitoring.Logf("Run %s", r.metrics.RunID)

	// Step 1: Load projection matrices
	monitoring.Step(1, "Loading projection matrices from %s...", r.params.ProjectionsFile)
	stageStart := time.Now()
	if err := r.loadProjections(); err != nil {
		return fmt.Errorf("failed to load projections: %w", err)
	}

	// Step 2: Load view images
	monitoring.Step(2, "Loading view images from %s...", r.params.ImagesDir)
	if err := r.loadViews(ctx); err != nil {
		return fmt.Errorf("failed to load views: %w", err)
	}
	r.metrics.LoadTime = time.Since(stageStart)

	// Step 3: Extract silhouettes
	monitoring.Step(3, "Extracting silhouettes...")
	stageStart = time.Now()
	if err := r.extractSilhouettes(ctx); err != nil {
		return fmt.Errorf("failed to extract silhouettes: %w", err)
	}
	r.metrics.SilhouetteTime = time.Since(stageStart)

	// Step 4: Build the lattice
	monitoring.Step(4, "Building %d^3 voxel lattice...", r.params.Lattice.Resolution)
	lat, err := lattice.Build(r.params.Lattice)
	if err != nil {
		return fmt.Errorf("failed to build lattice: %w", err)
	}
	r.lattice = lat
	r.metrics.LatticeBounds = lat.Bounds()
	size := r.metrics.LatticeBounds.Size()
	monitoring.Logf("Lattice spans %.3g x %.3g x %.3g around %v", size.X, size.Y, size.Z, r.metrics.LatticeBounds.Center())

	// Step 5: Carve
	monitoring.Step(5, "Carving %d voxels against %d views...", lat.Len(), len(r.silhouettes))
	stageStart = time.Now()
	if err := r.carve(ctx); err != nil {
		return fmt.Errorf("failed to carve: %w", err)
	}
	r.metrics.CarveTime = time.Since(stageStart)

	// Step 6: Write the grid
	monitoring.Step(6, "Writing occupancy grid to %s...", r.params.OutputFile)
	stageStart = time.Now()
	if err := gridio.WriteOccupancy(r.params.OutputFile, r.occupancy, r.params.Grid); err != nil {
		return fmt.Errorf("failed to write grid: %w", err)
	}
	r.metrics.WriteTime = time.Since(stageStart)
	r.metrics.OutputFile = r.params.OutputFile

	if r.params.SaveIntermediaryResults {
		r.saveIntermediaryResults()
	}

	r.metrics.TotalTime = time.Since(start)
	return nil
}

func (r *Reconstructor) loadProjections() error {
	set, err := projection.Load(r.params.ProjectionsFile, r.params.ProjectionVar)
	if err != nil {
		return err
	}
	r.projections = set
	monitoring.Logf("Loaded %d projection matrices", set.Count())
	return nil
}

func (r *Reconstructor) loadViews(ctx context.Context) error {
	views, err := dataset.Load(ctx, r.params.ImagesDir, r.params.NumCores)
	if err != nil {
		return err
	}
	if len(views) != r.projections.Count() {
		return fmt.Errorf("%w: %d view images for %d projection matrices",
			models.ErrConfiguration, len(views), r.projections.Count())
	}

	r.views = views
	r.metrics.Views = len(views)
	r.metrics.ImageWidth = views[0].Image.Width
	r.metrics.ImageHeight = views[0].Image.Height
	monitoring.Logf("Loaded %d views with dimensions %dx%d", len(views), r.metrics.ImageWidth, r.metrics.ImageHeight)
	return nil
}

func (r *Reconstructor) extractSilhouettes(ctx context.Context) error {
	extractor, err := silhouette.NewExtractor(r.params.Silhouette)
	if err != nil {
		return err
	}

	images := make([]*models.Image, len(r.views))
	for i, v := range r.views {
		images[i] = v.Image
	}
	sils, err := extractor.ExtractAll(ctx, images, r.params.NumCores)
	if err != nil {
		return err
	}
	r.silhouettes = sils

	fractions := make([]float64, len(sils))
	for i, s := range sils {
		fractions[i] = float64(s.Foreground()) / float64(s.Width*s.Height)
		if s.Foreground() == 0 {
			monitoring.Logf("Warning: silhouette of %s is empty; every voxel will miss this view", r.views[i].Filename)
		}
	}
	r.metrics.ForegroundFraction = stat.Mean(fractions, nil)
	return nil
}

func (r *Reconstructor) carve(ctx context.Context) error {
	engine := carving.NewEngine(carving.Options{
		Workers:  r.params.NumCores,
		Progress: progressLogger(),
	})

	votes, err := engine.Carve(ctx, r.lattice, r.projections, r.silhouettes)
	if err != nil {
		return err
	}
	occ, err := carving.Threshold(votes, r.lattice, len(r.silhouettes), r.params.Cutoff)
	if err != nil {
		return err
	}
	r.votes = votes
	r.occupancy = occ

	mean, std := stat.MeanStdDev(votes, nil)
	r.metrics.Resolution = r.lattice.Resolution()
	r.metrics.Voxels = r.lattice.Len()
	r.metrics.Cutoff = r.params.Cutoff
	r.metrics.Occupied = occ.Count()
	r.metrics.OccupiedFraction = occ.Fraction()
	r.metrics.OccupiedBounds = occupiedBounds(r.lattice, occ)
	r.metrics.VoteMean = mean
	r.metrics.VoteStdDev = std
	r.metrics.VoteMax = votes.Max()

	monitoring.Logf("%d of %d voxels occupied (%.2f%%), cutoff %g", occ.Count(), occ.Len(), 100*occ.Fraction(), r.params.Cutoff)
	if r.params.Cutoff >= float64(len(r.silhouettes)) {
		monitoring.Logf("Warning: cutoff %g is not below the view count %d; the grid is empty", r.params.Cutoff, len(r.silhouettes))
	}
	return nil
}

// occupiedBounds returns the box spanned by the centers of the occupied
// voxels, or the zero box when none is occupied.
func occupiedBounds(lat *lattice.Lattice, occ *carving.Occupancy) r3.Box {
	s := lat.Resolution()
	lo := [3]int{s, s, s}
	hi := [3]int{-1, -1, -1}
	for i := 0; i < occ.Len(); i++ {
		if !occ.Occupied(i) {
			continue
		}
		ix, iy, iz := lat.Coords(i)
		for k, c := range [3]int{ix, iy, iz} {
			lo[k] = min(lo[k], c)
			hi[k] = max(hi[k], c)
		}
	}
	if hi[0] < 0 {
		return r3.Box{}
	}
	return r3.Box{
		Min: lat.Point(lat.Index(lo[0], lo[1], lo[2])),
		Max: lat.Point(lat.Index(hi[0], hi[1], hi[2])),
	}
}

// progressLogger logs carve progress in steps of roughly ten percent.
func progressLogger() carving.ProgressCallback {
	last := -1
	return func(completed, total int) {
		decile := completed * 10 / total
		if decile == last {
			return
		}
		last = decile
		monitoring.Logf("Carving: %d/%d views (%.0f%%)", completed, total, 100*float64(completed)/float64(total))
	}
}

// saveIntermediaryResults writes diagnostic images. Failures are logged and
// never fail the run.
func (r *Reconstructor) saveIntermediaryResults() {
	dir := r.params.IntermediaryDir
	monitoring.Logf("Saving intermediary results to %s...", dir)

	if err := visualization.SaveSilhouettes(r.views, r.silhouettes, filepath.Join(dir, "01_silhouettes")); err != nil {
		monitoring.Logf("Warning: Failed to save silhouettes: %v", err)
	}

	viewer := visualization.NewViewer(r.occupancy)
	if err := viewer.SaveSliceSequence("z", filepath.Join(dir, "02_occupancy_slices")); err != nil {
		monitoring.Logf("Warning: Failed to save occupancy slices: %v", err)
	}

	if err := visualization.SaveVoteHistogram(r.votes, len(r.silhouettes), r.params.Cutoff, filepath.Join(dir, "03_votes.png")); err != nil {
		monitoring.Logf("Warning: Failed to save vote histogram: %v", err)
	}
}

// GetMetrics returns the metrics of the last run.
func (r *Reconstructor) GetMetrics() CarveMetrics {
	return r.metrics
}

// Votes returns the per-voxel vote counts of the last run.
func (r *Reconstructor) Votes() carving.Votes {
	return r.votes
}

// Occupancy returns the thresholded field of the last run.
func (r *Reconstructor) Occupancy() *carving.Occupancy {
	return r.occupancy
}

// WriteSummary saves metrics as YAML to path, creating parent directories.
func WriteSummary(metrics CarveMetrics, path string) error {
	data, err := yaml.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("error marshaling summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	return nil
}
