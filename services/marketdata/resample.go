package marketdata

import (
	"sort"

	"quantsim/services/engine"
)

// Resample aggregates series into buckets of target milliseconds: open is
// the first bar's, high and low the extremes, close the last bar's, volume
// the sum. Bucket timestamps are floored to the epoch grid, so hourly bars
// resampled to a day land on midnight UTC. The target must be a positive
// multiple of the detected source cadence.
func Resample(series *engine.BarSeries, target uint64) (*engine.BarSeries, error) {
	if series == nil || series.Len() == 0 {
		return nil, engine.NewDataError("resample needs a non-empty series")
	}
	if target == 0 {
		return nil, engine.NewConfigError("target cadence must be positive")
	}
	src := DetectCadence(series.Bars)
	if src > 0 && target%src != 0 {
		return nil, engine.NewConfigError("target cadence %dms is not a multiple of the source cadence %dms", target, src)
	}

	buckets := make(map[uint64]*engine.Bar)
	order := make([]uint64, 0, series.Len())
	for _, b := range series.Bars {
		key := b.Timestamp / target * target
		agg, ok := buckets[key]
		if !ok {
			nb := b
			nb.Timestamp = key
			buckets[key] = &nb
			order = append(order, key)
			continue
		}
		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Close = b.Close
		agg.Volume += b.Volume
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]engine.Bar, 0, len(order))
	for _, key := range order {
		out = append(out, *buckets[key])
	}
	resampled := engine.NewBarSeries(series.Symbol, out)
	if err := resampled.Validate(); err != nil {
		return nil, err
	}
	return resampled, nil
}
