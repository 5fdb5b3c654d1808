package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// severityLevel is one entry in the ordered severity keyword table. Levels
// are evaluated highest first; the first level that matches a line decides
// its score.
type severityLevel struct {
	name    string
	score   int
	pattern *regexp.Regexp
}

var severityTable = []severityLevel{
	{"fatal", 5, regexp.MustCompile(`(?i)\b(fatal|panic)\b`)},
	{"critical", 4, regexp.MustCompile(`(?i)\b(critical|crit|alert|emerg)\b`)},
	{"error", 3, regexp.MustCompile(`(?i)\b(error|err|exception|failed|failure)\b`)},
	{"warn", 2, regexp.MustCompile(`(?i)\b(warn|warning)\b`)},
}

// LogExtractor implements the crime-scene strategy: score every line for
// severity, centre a context window on the worst line, widen over bursts, and
// never silently drop a late recurrence of the same severity.
type LogExtractor struct {
	halfWidth int
	logger    *utils.Logger
}

func NewLogExtractor(halfWidth int, logger *utils.Logger) *LogExtractor {
	if halfWidth <= 0 {
		halfWidth = 200
	}
	return &LogExtractor{halfWidth: halfWidth, logger: logger}
}

func (e *LogExtractor) Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error) {
	lines := strings.Split(string(sub.Payload), "\n")

	scores := make([]int, len(lines))
	counts := make(map[string]int)
	maxScore := 0
	crimeIdx := -1
	for i, line := range lines {
		for _, lvl := range severityTable {
			if lvl.pattern.MatchString(line) {
				scores[i] = lvl.score
				counts[lvl.name]++
				break
			}
		}
		if scores[i] > maxScore {
			maxScore = scores[i]
			crimeIdx = i
		}
	}

	if maxScore == 0 {
		return e.tailFallback(sub, lines), nil
	}

	// Indexes of every line at the maximum severity; used for burst widening
	// and late-recurrence detection.
	var peaks []int
	for i, s := range scores {
		if s == maxScore {
			peaks = append(peaks, i)
		}
	}

	start := crimeIdx - e.halfWidth
	end := crimeIdx + e.halfWidth
	burst := false
	if len(peaks) > 1 && peaks[len(peaks)-1]-peaks[0] <= e.halfWidth {
		// The peaks cluster: widen around the whole burst instead of the
		// single worst line.
		burst = true
		start = peaks[0] - e.halfWidth
		end = peaks[len(peaks)-1] + e.halfWidth
	}
	start = clamp(start, 0, len(lines)-1)
	end = clamp(end, 0, len(lines)-1)

	var b strings.Builder
	b.WriteString(strings.Join(lines[start:end+1], "\n"))

	metadata := map[string]interface{}{
		"crime_scene_line": crimeIdx + 1,
		"max_severity":     severityName(maxScore),
		"severity_counts":  counts,
		"window_start":     start + 1,
		"window_end":       end + 1,
		"burst":            burst,
	}

	// Large artifact with the crime scene in the first half: also surface the
	// last recurrence of the same severity so a late repeat is never lost.
	if len(lines) > 4*e.halfWidth && crimeIdx < len(lines)/2 {
		last := peaks[len(peaks)-1]
		if last > end {
			rStart := clamp(last-e.halfWidth/4, 0, len(lines)-1)
			rEnd := clamp(last+e.halfWidth/4, 0, len(lines)-1)
			fmt.Fprintf(&b, "\n--- last %s recurrence (line %d) ---\n", severityName(maxScore), last+1)
			b.WriteString(strings.Join(lines[rStart:rEnd+1], "\n"))
			metadata["recurrence_line"] = last + 1
		}
	}

	extract := b.String()
	return &Outcome{Result: &models.ExtractionResult{
		Method:           "crime_scene",
		Summary:          headline(lines[crimeIdx], 500),
		FullExtract:      extract,
		CompressionRatio: ratio(len(extract), len(sub.Payload)),
		Metadata:         metadata,
		Quality:          models.QualityHigh,
	}}, nil
}

// tailFallback returns the most recent lines when no severity signal exists
// anywhere in the artifact.
func (e *LogExtractor) tailFallback(sub *models.RawSubmission, lines []string) *Outcome {
	e.logger.Warn("No severity signal in log artifact, falling back to tail",
		"submission_id", sub.ID, "lines", len(lines))

	n := 2 * e.halfWidth
	if n > len(lines) {
		n = len(lines)
	}
	extract := strings.Join(lines[len(lines)-n:], "\n")
	return &Outcome{Result: &models.ExtractionResult{
		Method:           "log_tail",
		Summary:          headline(extract, 500),
		FullExtract:      extract,
		CompressionRatio: ratio(len(extract), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"tail_lines":  n,
			"total_lines": len(lines),
		},
		Quality: models.QualityLow,
	}}
}

func severityName(score int) string {
	for _, lvl := range severityTable {
		if lvl.score == score {
			return lvl.name
		}
	}
	return "none"
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
