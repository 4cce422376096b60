package metrics

// Policy selects how a reported value is aggregated. Report maps the policy
// onto the backing prometheus metric type: sums become counters, instantaneous
// values become gauges, and the distribution policies share a histogram, whose
// quantile aggregation happens at query time.
type Policy int

const (
	PolicyNone      Policy = iota // unspecified, treated as an instantaneous value
	PolicySet                     // instantaneous value, last write wins
	PolicySum                     // monotonically accumulated total
	PolicyAvg                     // distribution, averaged at query time
	PolicyMax                     // distribution, max at query time
	PolicyMin                     // distribution, min at query time
	PolicyMid                     // distribution, median at query time
	PolicyStopwatch               // duration sample
	PolicyHistogram               // distribution sample
)

// Value represents a metric value as a float64.
type Value float64

// Dimension attaches contextual labels to a metric, such as a drop reason or
// a limiter kind.
type Dimension map[string]string
