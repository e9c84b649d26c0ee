// Package carving implements shape-from-silhouette voxel carving: every
// voxel of a lattice is projected into every calibrated view and counts one
// vote per view whose silhouette marks its pixel as foreground. The votes
// are then thresholded into a binary occupancy field.
package carving

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"voxelcarve/internal/models"
	"voxelcarve/pkg/lattice"
)

// Projections is an ordered set of 3x4 camera matrices, one per view.
type Projections interface {
	Count() int
	At(view int) mat.Matrix
}

// Votes holds, per voxel, the number of views that saw it as foreground.
type Votes []float64

// Max returns the largest vote, or 0 for an empty vector.
func (v Votes) Max() float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Max(v)
}

// ProgressCallback reports how many views have been carved so far.
type ProgressCallback func(completed, total int)

// Options configures an Engine.
type Options struct {
	// Workers is the number of views projected concurrently. Each worker
	// holds a vote vector and a 3xN projection buffer, so a carve needs
	// about 32*N bytes per worker on top of the shared 4xN lattice
	// (roughly 55 MB per worker at 120 samples per axis).
	Workers int

	// Progress, when set, is called after each view is accumulated.
	Progress ProgressCallback
}

// Engine carves lattices against silhouettes. An Engine holds no per-carve
// state and may be reused.
type Engine struct {
	workers  int
	progress ProgressCallback
}

// NewEngine creates an engine. Fewer than one worker means one.
func NewEngine(opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{workers: opts.Workers, progress: opts.Progress}
}

type workerResult struct {
	worker int
	votes  []float64
}

// Carve projects every voxel of lat into every view and returns the summed
// foreground votes. projections.Count() must equal len(silhouettes), there
// must be at least one view and all silhouettes must share one size.
//
// Views are distributed over a worker pool; each worker sums its views into
// a private vector and the vectors are added in worker order. Because votes
// are small integers the sum is exact and independent of view order.
// Cancelling ctx abandons the carve and discards all partial votes.
func (e *Engine) Carve(ctx context.Context, lat *lattice.Lattice, projections Projections, silhouettes []*models.Silhouette) (Votes, error) {
	if err := validate(lat, projections, silhouettes); err != nil {
		return nil, err
	}

	n := lat.Len()
	total := len(silhouettes)
	hom := lat.Homogeneous()

	workers := e.workers
	if workers > total {
		workers = total
	}

	views := make(chan int)
	done := make(chan int)
	results := make(chan workerResult, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			acc := make([]float64, n)
			uv := mat.NewDense(3, n, nil)
			for view := range views {
				if ctx.Err() != nil {
					continue
				}
				uv.Mul(projections.At(view), hom)
				accumulate(acc, uv, silhouettes[view])
				done <- view
			}
			results <- workerResult{worker: worker, votes: acc}
		}(w)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	go func() {
		defer close(views)
		for view := 0; view < total; view++ {
			select {
			case views <- view:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Track progress until every view is in or the carve is abandoned
	for completed := 0; completed < total; {
		select {
		case <-done:
			completed++
			if e.progress != nil {
				e.progress(completed, total)
			}
		case <-ctx.Done():
			go drain(done)
			return nil, ctx.Err()
		}
	}

	partial := make([][]float64, workers)
	for w := 0; w < workers; w++ {
		res := <-results
		partial[res.worker] = res.votes
	}

	votes := make(Votes, n)
	for _, p := range partial {
		floats.Add(votes, p)
	}
	return votes, nil
}

// drain consumes completions from workers still finishing an abandoned carve.
func drain(done <-chan int) {
	for range done {
	}
}

func validate(lat *lattice.Lattice, projections Projections, silhouettes []*models.Silhouette) error {
	if lat == nil {
		return fmt.Errorf("%w: no lattice", models.ErrConfiguration)
	}
	if projections == nil || projections.Count() == 0 || len(silhouettes) == 0 {
		return fmt.Errorf("%w: at least one view is required", models.ErrConfiguration)
	}
	if projections.Count() != len(silhouettes) {
		return fmt.Errorf("%w: %d projection matrices for %d silhouettes", models.ErrConfiguration, projections.Count(), len(silhouettes))
	}
	for i, s := range silhouettes {
		if s == nil {
			return fmt.Errorf("%w: silhouette %d is missing", models.ErrConfiguration, i)
		}
	}
	w, h := silhouettes[0].Width, silhouettes[0].Height
	for i, s := range silhouettes {
		if s.Width != w || s.Height != h {
			return fmt.Errorf("%w: silhouette %d is %dx%d, silhouette 0 is %dx%d", models.ErrConfiguration, i, s.Width, s.Height, w, h)
		}
		if r, c := projections.At(i).Dims(); r != 3 || c != 4 {
			return fmt.Errorf("%w: projection %d is %dx%d", models.ErrConfiguration, i, r, c)
		}
	}
	return nil
}

// accumulate adds one view's votes to acc. uv holds the projected
// homogeneous pixel coordinates of every voxel. Any nonzero mask value
// counts as a single vote.
//
// Pixel coordinates are rounded half to even. The bounds test runs on the
// rounded floats so that the huge values produced by near-zero depths are
// rejected by the bounds check instead of overflowing an int conversion.
// Only an exactly zero depth is treated as invalid.
func accumulate(acc []float64, uv *mat.Dense, sil *models.Silhouette) {
	us, vs, ws := uv.RawRowView(0), uv.RawRowView(1), uv.RawRowView(2)
	width, height := float64(sil.Width), float64(sil.Height)

	for i, depth := range ws {
		if depth == 0 {
			continue
		}
		u := math.RoundToEven(us[i] / depth)
		v := math.RoundToEven(vs[i] / depth)
		// NaN fails both comparisons
		if !(u >= 0 && u < width) || !(v >= 0 && v < height) {
			continue
		}
		if sil.At(int(v), int(u)) != 0 {
			acc[i]++
		}
	}
}
