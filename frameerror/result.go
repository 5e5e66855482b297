package frameerror

import (
	"math"
	"strings"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// statistic functions available to Aggregate, keyed by column prefix.
var statFuncs = map[string]func(stats.Float64Data) (float64, error){
	"min":    stats.Min,
	"max":    stats.Max,
	"mean":   stats.Mean,
	"median": stats.Median,
	"std":    stats.StandardDeviation,
}

// Result wraps the measured errors of one trial and serves aggregate
// statistics on demand. Columns are named "<func>_<series>", e.g.
// "mean_frames_lost" or "max_distance_found"; each is computed at most once.
type Result struct {
	Errors *TrialErrors

	mu    sync.Mutex
	cache map[string]float64
}

// NewResult measures a trial and prepares its aggregation cache.
func NewResult(trialErrors *TrialErrors) *Result {
	return &Result{Errors: trialErrors, cache: map[string]float64{}}
}

// Aggregate returns the named statistic over one of the lost/found series.
// Empty series yield NaN rather than an error; an unknown column name is an
// error. Values are cached so repeated requests are free.
func (r *Result) Aggregate(name string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if value, ok := r.cache[name]; ok {
		return value, nil
	}

	funcName, seriesName, ok := strings.Cut(name, "_")
	if !ok {
		return 0, errors.Errorf("malformed aggregate column %q", name)
	}
	statFunc, ok := statFuncs[funcName]
	if !ok {
		return 0, errors.Errorf("unknown aggregate function %q in column %q", funcName, name)
	}
	series, err := r.series(seriesName)
	if err != nil {
		return 0, err
	}

	value := math.NaN()
	if len(series) > 0 {
		value, err = statFunc(stats.Float64Data(series))
		if err != nil {
			return 0, errors.Wrapf(err, "aggregating column %q", name)
		}
	}
	r.cache[name] = value
	return value, nil
}

func (r *Result) series(name string) ([]float64, error) {
	switch name {
	case "frames_lost":
		return r.Errors.FramesLost, nil
	case "frames_found":
		return r.Errors.FramesFound, nil
	case "times_lost":
		return r.Errors.TimesLost, nil
	case "times_found":
		return r.Errors.TimesFound, nil
	case "distance_lost":
		return r.Errors.DistancesLost, nil
	case "distance_found":
		return r.Errors.DistancesFound, nil
	}
	return nil, errors.Errorf("unknown aggregate series %q", name)
}
