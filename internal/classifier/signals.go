package classifier

import (
	"regexp"

	"github.com/mkandie/artifact-triage-api/internal/models"
)

// SignalTableVersion identifies the signal/threshold table in effect so a
// classification decision can be audited against the exact rules that
// produced it.
const SignalTableVersion = "v1"

// Signal is one named, pattern-backed piece of evidence.
type Signal struct {
	ID      string
	Pattern *regexp.Regexp
	// Weight is used at the weak tier; required/bonus membership at the
	// strong tier carries no weight of its own.
	Weight float64
}

// SignalGroup gathers the evidence for one semantic type at the strong tier.
// A type qualifies only when at least MinRequired of its Required signals
// fire; Bonus signals raise the confidence within the strong band.
type SignalGroup struct {
	Type        models.SemanticType
	Required    []Signal
	MinRequired int
	Bonus       []Signal
}

// WeakCue is a suggestive, non-exclusive hint scored at the weak tier.
type WeakCue struct {
	Type   models.SemanticType
	Signal Signal
}

// SignalTable is the full, immutable rule set injected into the Classifier.
// Swapping the table swaps the decision tree; nothing may mutate it at
// runtime.
type SignalTable struct {
	Version string
	Groups  []SignalGroup
	Cues    []WeakCue
	// ExtHints and MIMEHints contribute HintWeight to the named type at the
	// weak tier. Hints never qualify a type on their own at higher tiers.
	ExtHints   map[string]models.SemanticType
	MIMEHints  map[string]models.SemanticType
	HintWeight float64
}

var (
	reTimestamp = regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}[T ]\d{2}:\d{2}:\d{2}|\d{2}:\d{2}:\d{2}[.,]\d{3}`)
	reSeverity  = regexp.MustCompile(`(?i)\b(FATAL|CRITICAL|ERROR|WARN(ING)?|INFO|DEBUG|TRACE|PANIC)\b`)
	reBracketed = regexp.MustCompile(`\[(?i:fatal|critical|error|warn|warning|info|debug|trace)\]`)
	reLoggerRef = regexp.MustCompile(`(?i)\b(logger|thread|pid|goroutine)[\s=:#-]`)

	reStackFrame = regexp.MustCompile(`(?m)^\s+at\s+\S+\(|^\s+File "[^"]+", line \d+|\.go:\d+ \+0x|^Traceback \(most recent`)
	reErrorWord  = regexp.MustCompile(`(?i)\b(exception|panic|caused by|stack ?trace|errno|segfault)\b`)

	reNumericColumns = regexp.MustCompile(`(?m)^\S+[,\s]+-?\d+(\.\d+)?[,\s]+-?\d+(\.\d+)?`)
	rePerfVocab      = regexp.MustCompile(`(?i)\b(latency|cpu|memory|throughput|qps|rps|p50|p95|p99|heap|rss|iops|util)\b`)
	reUnits          = regexp.MustCompile(`\d+(\.\d+)?\s?(ms|µs|us|ns|s|%|[KMGT]i?B)\b`)
	reSpanID         = regexp.MustCompile(`(?i)\b(trace[_-]?id|span[_-]?id)["'\s:=]+[0-9a-f]{16,32}\b`)
	reParentField    = regexp.MustCompile(`(?i)\b(parent[_-]?(span[_-]?)?id|service[._-]?name)\b`)
	reProfileHeader  = regexp.MustCompile(`(?m)^\s*(ncalls\s+tottime|flat\s+flat%\s+sum%|File: \S+\s*$|Type: (cpu|alloc_space|inuse_space))`)
	reCallNotation   = regexp.MustCompile(`(?m)\b\w+(\.\w+)+\(\)?\s+\d+(\.\d+)?`)

	reDefinition  = regexp.MustCompile(`(?m)^\s*(func|def|class|fn|public\s+\w+|private\s+\w+|function)\s+\w+`)
	reImportStmt  = regexp.MustCompile(`(?m)^\s*(import\s|from\s+\S+\s+import|#include\s*<|require\(|use\s+\w+::)`)
	reCodeComment = regexp.MustCompile(`(?m)^\s*(//|#|/\*)\s*\S`)
	reCodeSyntax  = regexp.MustCompile(`[{};]\s*$|:=|->|=>`)

	reKeyValue      = regexp.MustCompile(`(?m)^\s*[\w.-]+\s*[:=]\s*\S`)
	reSectionHeader = regexp.MustCompile(`(?m)^\s*\[[\w ."-]+\]\s*$`)
	reYamlListItem  = regexp.MustCompile(`(?m)^\s*- \S`)

	reProse = regexp.MustCompile(`(?m)\b\w+\s+\w+\s+\w+\s+\w+\s+\w+\b.*[.!?]`)
)

// DefaultSignalTable returns the v1 rule set. The table is constructed fresh
// on each call so callers cannot alias and mutate shared state.
func DefaultSignalTable() SignalTable {
	return SignalTable{
		Version: SignalTableVersion,
		Groups: []SignalGroup{
			{
				Type: models.TypeLogEvents,
				Required: []Signal{
					{ID: "log.timestamps", Pattern: reTimestamp},
					{ID: "log.severity_tokens", Pattern: reSeverity},
				},
				MinRequired: 2,
				Bonus: []Signal{
					{ID: "log.bracketed_levels", Pattern: reBracketed},
					{ID: "log.logger_refs", Pattern: reLoggerRef},
				},
			},
			{
				Type: models.TypeMetricsSeries,
				Required: []Signal{
					{ID: "metrics.numeric_columns", Pattern: reNumericColumns},
					{ID: "metrics.perf_vocabulary", Pattern: rePerfVocab},
				},
				MinRequired: 2,
				Bonus: []Signal{
					{ID: "metrics.units", Pattern: reUnits},
				},
			},
			{
				Type: models.TypeSourceCode,
				Required: []Signal{
					{ID: "code.definitions", Pattern: reDefinition},
					{ID: "code.imports", Pattern: reImportStmt},
				},
				MinRequired: 2,
				Bonus: []Signal{
					{ID: "code.comments", Pattern: reCodeComment},
					{ID: "code.syntax", Pattern: reCodeSyntax},
				},
			},
			{
				Type: models.TypeStructuredConfig,
				Required: []Signal{
					{ID: "config.key_values", Pattern: reKeyValue},
					{ID: "config.sections", Pattern: reSectionHeader},
				},
				MinRequired: 2,
				Bonus: []Signal{
					{ID: "config.list_items", Pattern: reYamlListItem},
				},
			},
		},
		Cues: []WeakCue{
			{Type: models.TypeLogEvents, Signal: Signal{ID: "cue.severity_tokens", Pattern: reSeverity, Weight: 0.35}},
			{Type: models.TypeLogEvents, Signal: Signal{ID: "cue.timestamps", Pattern: reTimestamp, Weight: 0.3}},
			{Type: models.TypeLogEvents, Signal: Signal{ID: "cue.error_words", Pattern: reErrorWord, Weight: 0.25}},
			{Type: models.TypeMetricsSeries, Signal: Signal{ID: "cue.numeric_columns", Pattern: reNumericColumns, Weight: 0.35}},
			{Type: models.TypeMetricsSeries, Signal: Signal{ID: "cue.units", Pattern: reUnits, Weight: 0.25}},
			{Type: models.TypeSourceCode, Signal: Signal{ID: "cue.definitions", Pattern: reDefinition, Weight: 0.35}},
			{Type: models.TypeSourceCode, Signal: Signal{ID: "cue.code_syntax", Pattern: reCodeSyntax, Weight: 0.2}},
			{Type: models.TypeStructuredConfig, Signal: Signal{ID: "cue.key_values", Pattern: reKeyValue, Weight: 0.3}},
			{Type: models.TypeStructuredConfig, Signal: Signal{ID: "cue.sections", Pattern: reSectionHeader, Weight: 0.25}},
			{Type: models.TypeUnstructuredText, Signal: Signal{ID: "cue.prose", Pattern: reProse, Weight: 0.55}},
		},
		ExtHints: map[string]models.SemanticType{
			".log":  models.TypeLogEvents,
			".csv":  models.TypeMetricsSeries,
			".tsv":  models.TypeMetricsSeries,
			".yaml": models.TypeStructuredConfig,
			".yml":  models.TypeStructuredConfig,
			".json": models.TypeStructuredConfig,
			".toml": models.TypeStructuredConfig,
			".ini":  models.TypeStructuredConfig,
			".conf": models.TypeStructuredConfig,
			".go":   models.TypeSourceCode,
			".py":   models.TypeSourceCode,
			".js":   models.TypeSourceCode,
			".ts":   models.TypeSourceCode,
			".java": models.TypeSourceCode,
			".rb":   models.TypeSourceCode,
			".rs":   models.TypeSourceCode,
			".c":    models.TypeSourceCode,
			".txt":  models.TypeUnstructuredText,
			".md":   models.TypeUnstructuredText,
		},
		MIMEHints: map[string]models.SemanticType{
			"text/csv":         models.TypeMetricsSeries,
			"application/json": models.TypeStructuredConfig,
			"application/yaml": models.TypeStructuredConfig,
			"text/x-log":       models.TypeLogEvents,
			"text/markdown":    models.TypeUnstructuredText,
			"text/plain":       models.TypeUnstructuredText,
		},
		HintWeight: 0.25,
	}
}
