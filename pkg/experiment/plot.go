package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"nestgo/pkg/results"
)

// plotWorker renders the aggregated contents of one store. Rendering
// here means a per-metric summary document next to the raw dump;
// graphical output is left to external tooling over the JSON.
func plotWorker(store *results.Store, dir string) worker {
	return func(_ context.Context) error {
		if store.Empty() {
			return nil
		}
		summary := summarize(store.Snapshot())
		raw, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to summarize %s results: %w", store.Tool(), err)
		}
		path := filepath.Join(dir, store.Tool()+"_summary.json")
		return os.WriteFile(path, raw, 0o644)
	}
}

type metricSummary struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// summarize folds every numeric metric into per-destination stats.
func summarize(data map[string]map[string][]results.Record) map[string]map[string]map[string]metricSummary {
	out := make(map[string]map[string]map[string]metricSummary)
	for ns, byDest := range data {
		out[ns] = make(map[string]map[string]metricSummary)
		for dest, recs := range byDest {
			acc := make(map[string][]float64)
			for _, rec := range recs {
				for metric, val := range rec {
					if metric == "timestamp" {
						continue
					}
					f, err := strconv.ParseFloat(val, 64)
					if err != nil {
						continue
					}
					acc[metric] = append(acc[metric], f)
				}
			}

			metrics := make(map[string]metricSummary, len(acc))
			names := make([]string, 0, len(acc))
			for m := range acc {
				names = append(names, m)
			}
			sort.Strings(names)
			for _, m := range names {
				vals := acc[m]
				s := metricSummary{Samples: len(vals), Min: vals[0], Max: vals[0]}
				var sum float64
				for _, v := range vals {
					sum += v
					if v < s.Min {
						s.Min = v
					}
					if v > s.Max {
						s.Max = v
					}
				}
				s.Mean = sum / float64(len(vals))
				metrics[m] = s
			}
			out[ns][dest] = metrics
		}
	}
	return out
}
