package extractor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// minSeriesSamples is the smallest sample count for which a mean and standard
// deviation are statistically worth computing.
const minSeriesSamples = 5

// MetricsExtractor parses named numeric series out of tabular artifacts and
// flags anomalous points by z-score, tagging each as a spike or a drop.
type MetricsExtractor struct {
	zThreshold   float64
	maxAnomalies int
	logger       *utils.Logger
}

func NewMetricsExtractor(zThreshold float64, maxAnomalies int, logger *utils.Logger) *MetricsExtractor {
	if zThreshold <= 0 {
		zThreshold = 3.0
	}
	if maxAnomalies <= 0 {
		maxAnomalies = 10
	}
	return &MetricsExtractor{zThreshold: zThreshold, maxAnomalies: maxAnomalies, logger: logger}
}

type series struct {
	name   string
	values []float64
}

type anomaly struct {
	series string
	index  int
	value  float64
	z      float64
	kind   string // "spike" or "drop"
}

func (e *MetricsExtractor) Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error) {
	text := string(sub.Payload)
	cols := parseSeries(text)
	if len(cols) == 0 {
		return e.rawFallback(sub, text), nil
	}

	var anomalies []anomaly
	skipped := 0
	scored := 0
	for _, s := range cols {
		if len(s.values) < minSeriesSamples {
			continue
		}
		mean, stddev := meanStddev(s.values)
		if stddev == 0 {
			// Zero variance cannot be meaningfully scored.
			skipped++
			continue
		}
		scored++
		for i, v := range s.values {
			z := (v - mean) / stddev
			if math.Abs(z) > e.zThreshold {
				kind := "spike"
				if z < 0 {
					kind = "drop"
				}
				anomalies = append(anomalies, anomaly{series: s.name, index: i, value: v, z: z, kind: kind})
			}
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		if math.Abs(anomalies[i].z) != math.Abs(anomalies[j].z) {
			return math.Abs(anomalies[i].z) > math.Abs(anomalies[j].z)
		}
		if anomalies[i].series != anomalies[j].series {
			return anomalies[i].series < anomalies[j].series
		}
		return anomalies[i].index < anomalies[j].index
	})
	total := len(anomalies)
	if len(anomalies) > e.maxAnomalies {
		anomalies = anomalies[:e.maxAnomalies]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d numeric series (%d with sufficient variance).\n", len(cols), scored)
	if total == 0 {
		b.WriteString("No points deviate beyond the z-score threshold; series look statistically unremarkable.\n")
	} else {
		fmt.Fprintf(&b, "%d anomalous points found (showing top %d):\n", total, len(anomalies))
		for rank, a := range anomalies {
			fmt.Fprintf(&b, "%d. %s of %q at sample %d: value %.4g is %.1f standard deviations from the series mean\n",
				rank+1, a.kind, a.series, a.index+1, a.value, math.Abs(a.z))
		}
	}

	extract := b.String()
	summaryLine := "no statistical anomalies detected"
	if total > 0 {
		top := anomalies[0]
		summaryLine = fmt.Sprintf("%d anomalies; worst: %s of %q at sample %d (|z|=%.1f)",
			total, top.kind, top.series, top.index+1, math.Abs(top.z))
	}

	return &Outcome{Result: &models.ExtractionResult{
		Method:           "zscore_anomaly",
		Summary:          summaryLine,
		FullExtract:      extract,
		CompressionRatio: ratio(len(extract), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"series_count":         len(cols),
			"scored_series":        scored,
			"zero_variance_series": skipped,
			"anomaly_count":        total,
			"z_threshold":          e.zThreshold,
		},
		Quality: models.QualityHigh,
	}}, nil
}

// rawFallback passes through head and tail when no numeric columns parse.
func (e *MetricsExtractor) rawFallback(sub *models.RawSubmission, text string) *Outcome {
	e.logger.Warn("Metrics artifact did not parse into numeric series", "submission_id", sub.ID)

	const keep = 4 << 10
	extract := text
	if len(text) > 2*keep {
		extract = text[:keep] + "\n... [middle omitted] ...\n" + text[len(text)-keep:]
	}
	return &Outcome{Result: &models.ExtractionResult{
		Method:           "metrics_raw",
		Summary:          headline(text, 500),
		FullExtract:      extract,
		CompressionRatio: ratio(len(extract), len(sub.Payload)),
		Metadata:         map[string]interface{}{"parse_failed": true},
		Quality:          models.QualityLow,
	}}
}

// parseSeries reads delimited tabular text into named numeric columns. The
// first row names the columns when it is non-numeric; otherwise columns get
// positional names. The delimiter is whichever of comma, tab, or whitespace
// splits the first data row into the most fields.
func parseSeries(text string) []series {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rows = append(rows, splitRow(line))
	}
	if len(rows) < 2 {
		return nil
	}

	width := len(rows[0])
	if width == 0 {
		return nil
	}

	names := make([]string, width)
	dataStart := 0
	if !rowIsNumeric(rows[0]) {
		for i, f := range rows[0] {
			names[i] = f
		}
		dataStart = 1
	} else {
		for i := range names {
			names[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	cols := make([]series, width)
	for i := range cols {
		cols[i] = series{name: names[i]}
	}
	for _, row := range rows[dataStart:] {
		if len(row) != width {
			continue
		}
		for i, f := range row {
			if v, err := strconv.ParseFloat(f, 64); err == nil {
				cols[i].values = append(cols[i].values, v)
			}
		}
	}

	var numeric []series
	for _, s := range cols {
		if len(s.values) > 0 {
			numeric = append(numeric, s)
		}
	}
	return numeric
}

func splitRow(line string) []string {
	switch {
	case strings.Contains(line, ","):
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	case strings.Contains(line, "\t"):
		return strings.Split(line, "\t")
	default:
		return strings.Fields(line)
	}
}

func rowIsNumeric(row []string) bool {
	for _, f := range row {
		if _, err := strconv.ParseFloat(f, 64); err == nil {
			return true
		}
	}
	return false
}

func meanStddev(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	stddev = math.Sqrt(sq / float64(len(values)))
	return mean, stddev
}
