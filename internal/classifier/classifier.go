package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mkandie/artifact-triage-api/internal/models"
)

// Subtypes assigned by the disambiguation rules.
const (
	SubtypeErrorReport      = "error_report"
	SubtypeDistributedTrace = "distributed_trace"
	SubtypeExecutionProfile = "execution_profile"
)

// Classifier assigns a semantic type plus confidence tier to raw input using
// layered evidence: definitive structural signatures first, then named signal
// groups, then weighted cues. It is pure and deterministic over a bounded
// sample; it never performs I/O and never returns an error.
type Classifier struct {
	table              SignalTable
	sampleBytes        int
	errorDensityFactor float64
}

// New builds a Classifier around an immutable signal table. sampleBytes
// bounds how much of the payload is inspected; errorDensityFactor tunes the
// log-vs-error tie-break.
func New(table SignalTable, sampleBytes int, errorDensityFactor float64) *Classifier {
	if sampleBytes <= 0 {
		sampleBytes = 5 << 10
	}
	if errorDensityFactor <= 0 {
		errorDensityFactor = 2.0
	}
	return &Classifier{table: table, sampleBytes: sampleBytes, errorDensityFactor: errorDensityFactor}
}

// Classify inspects a bounded prefix of payload plus the declared name/MIME
// hints and returns the best-supported classification. Malformed or empty
// input degrades to unstructured text at the weak tier rather than failing.
func (c *Classifier) Classify(payload []byte, declaredName, declaredMIME string) models.ClassificationResult {
	sample := payload
	if len(sample) > c.sampleBytes {
		sample = sample[:c.sampleBytes]
	}

	if res, ok := c.definitive(payload, sample, declaredName); ok {
		return res
	}

	text := string(sample)
	if len(sample) > 0 && !looksTextual(sample) {
		return models.ClassificationResult{
			SemanticType:   models.TypeUnstructuredText,
			ConfidenceTier: models.TierWeak,
			Confidence:     0.5,
			Reasoning:      "sample is not valid text and matches no binary signature",
		}
	}
	if strings.TrimSpace(text) == "" {
		return models.ClassificationResult{
			SemanticType:   models.TypeUnstructuredText,
			ConfidenceTier: models.TierWeak,
			Confidence:     0.5,
			Reasoning:      "empty or whitespace-only sample",
		}
	}

	if res, ok := c.strong(text); ok {
		return res
	}
	if res, ok := c.weak(text, declaredName, declaredMIME); ok {
		return res
	}

	return models.ClassificationResult{
		SemanticType:   models.TypeUnstructuredText,
		ConfidenceTier: models.TierExternalFallback,
		Confidence:     0.0,
		Reasoning:      "no tier produced a qualifying match; external classification required",
	}
}

// UserSupplied wraps an operator's explicit type choice. Always confidence 1.
func UserSupplied(t models.SemanticType) models.ClassificationResult {
	return models.ClassificationResult{
		SemanticType:   t,
		ConfidenceTier: models.TierUserSupplied,
		Confidence:     1.0,
		Reasoning:      "type supplied by operator",
	}
}

// --- definitive tier ---

type magicSignature struct {
	id     string
	prefix []byte
	// fourCC, when set, must appear at offset 8. RIFF is a container shared
	// with WAV and AVI; the prefix alone does not identify an image.
	fourCC []byte
	typ    models.SemanticType
}

var magicSignatures = []magicSignature{
	{"magic.png", []byte{0x89, 'P', 'N', 'G'}, nil, models.TypeVisualEvidence},
	{"magic.jpeg", []byte{0xFF, 0xD8, 0xFF}, nil, models.TypeVisualEvidence},
	{"magic.gif", []byte("GIF8"), nil, models.TypeVisualEvidence},
	{"magic.webp_riff", []byte("RIFF"), []byte("WEBP"), models.TypeVisualEvidence},
	{"magic.bmp", []byte("BM"), nil, models.TypeVisualEvidence},
	{"magic.pdf", []byte("%PDF"), nil, models.TypeUnstructuredText},
}

func (s magicSignature) matches(sample []byte) bool {
	if !bytes.HasPrefix(sample, s.prefix) {
		return false
	}
	if len(s.fourCC) == 0 {
		return true
	}
	return len(sample) >= 8+len(s.fourCC) && bytes.Equal(sample[8:8+len(s.fourCC)], s.fourCC)
}

func (c *Classifier) definitive(payload, sample []byte, declaredName string) (models.ClassificationResult, bool) {
	for _, sig := range magicSignatures {
		if sig.matches(sample) {
			return definitiveResult(sig.typ, "", sig.id,
				fmt.Sprintf("binary signature %s", sig.id)), true
		}
	}

	// DOCX is a zip container; only trust the magic together with the name.
	if bytes.HasPrefix(sample, []byte("PK\x03\x04")) &&
		strings.EqualFold(filepath.Ext(declaredName), ".docx") {
		return definitiveResult(models.TypeUnstructuredText, "", "magic.docx",
			"zip container with .docx name"), true
	}

	if reProfileHeader.Match(sample) {
		return definitiveResult(models.TypeMetricsSeries, SubtypeExecutionProfile,
			"schema.profile_header", "profiler output header"), true
	}

	if sigID, ok := parsesAsStructuredDoc(payload, sample); ok {
		return definitiveResult(models.TypeStructuredConfig, "", sigID,
			"sample parses cleanly as a structured document"), true
	}

	return models.ClassificationResult{}, false
}

func definitiveResult(t models.SemanticType, subtype, signal, reason string) models.ClassificationResult {
	return models.ClassificationResult{
		SemanticType:   t,
		Subtype:        subtype,
		ConfidenceTier: models.TierDefinitive,
		Confidence:     0.99,
		MatchedSignals: []string{signal},
		Reasoning:      reason,
	}
}

// parsesAsStructuredDoc reports whether the document is unambiguously a
// structured config. The whole payload is parsed when it fits inside the
// sample; a truncated sample that fails to parse falls through to the lower
// tiers instead.
func parsesAsStructuredDoc(payload, sample []byte) (string, bool) {
	doc := payload
	if len(payload) > len(sample) {
		doc = sample
	}

	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return "", false
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err == nil {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				return "parse.json_document", true
			}
		}
	}

	// YAML accepts nearly any text as a scalar, so demand a mapping plus a
	// majority of structured lines and an absence of log timestamps. Stack
	// traces also happen to parse as mappings ("ValueError: boom"); those
	// belong to the error-report path, never here.
	structRatio, tsRatio := lineShape(string(doc))
	if structRatio >= 0.6 && tsRatio < 0.3 && !reStackFrame.Match(doc) {
		var m map[string]interface{}
		if err := yaml.Unmarshal(doc, &m); err == nil && len(m) > 0 {
			return "parse.yaml_document", true
		}
		var t map[string]interface{}
		if err := toml.Unmarshal(doc, &t); err == nil && len(t) > 0 {
			return "parse.toml_document", true
		}
	}

	return "", false
}

// lineShape measures what fraction of non-empty lines look like structured
// key/value content versus timestamped log lines.
func lineShape(text string) (structRatio, tsRatio float64) {
	lines := strings.Split(text, "\n")
	var total, structured, stamped int
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if reKeyValue.MatchString(line) || reSectionHeader.MatchString(line) || reYamlListItem.MatchString(line) {
			structured++
		}
		if reTimestamp.MatchString(line) {
			stamped++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(structured) / float64(total), float64(stamped) / float64(total)
}

// --- strong tier ---

type groupMatch struct {
	group    SignalGroup
	matched  []string
	bonusHit int
}

func (c *Classifier) strong(text string) (models.ClassificationResult, bool) {
	var qualified []groupMatch
	for _, g := range c.table.Groups {
		var matched []string
		required := 0
		for _, s := range g.Required {
			if s.Pattern.MatchString(text) {
				required++
				matched = append(matched, s.ID)
			}
		}
		if required < g.MinRequired {
			continue
		}
		bonus := 0
		for _, s := range g.Bonus {
			if s.Pattern.MatchString(text) {
				bonus++
				matched = append(matched, s.ID)
			}
		}
		qualified = append(qualified, groupMatch{group: g, matched: matched, bonusHit: bonus})
	}
	if len(qualified) == 0 {
		return models.ClassificationResult{}, false
	}

	winner := qualified[0]
	if len(qualified) > 1 {
		winner = c.breakStrongTie(text, qualified)
	}

	confidence := 0.85 + 0.04*float64(winner.bonusHit)
	if confidence > 0.98 {
		confidence = 0.98
	}

	res := models.ClassificationResult{
		SemanticType:   winner.group.Type,
		ConfidenceTier: models.TierStrong,
		Confidence:     confidence,
		MatchedSignals: winner.matched,
		Reasoning: fmt.Sprintf("signal group %s met %d required signals (+%d bonus)",
			winner.group.Type, winner.group.MinRequired, winner.bonusHit),
	}
	res.Subtype = c.subtype(text, res.SemanticType)
	return res, true
}

// breakStrongTie applies the documented disambiguation rules when more than
// one group qualifies at the strong tier. Unlisted ties fall back to table
// order, which is fixed, so the outcome stays deterministic.
func (c *Classifier) breakStrongTie(text string, qualified []groupMatch) groupMatch {
	byType := make(map[models.SemanticType]groupMatch, len(qualified))
	for _, q := range qualified {
		byType[q.group.Type] = q
	}

	// Config vs anything prose-like: a clean structured parse was already
	// handled at the definitive tier, so here structure density decides.
	if cfg, okC := byType[models.TypeStructuredConfig]; okC {
		structRatio, _ := lineShape(text)
		if len(byType) == 2 {
			if _, okT := byType[models.TypeUnstructuredText]; okT {
				if structRatio >= proseDensity(text) {
					return cfg
				}
			}
		}
	}

	// Errors are events within a stream: timestamps plus severity prefer the
	// log interpretation over everything else.
	if lg, ok := byType[models.TypeLogEvents]; ok {
		return lg
	}
	return qualified[0]
}

// subtype refines a type using the disambiguation rules that do not change
// the winning type itself.
func (c *Classifier) subtype(text string, t models.SemanticType) string {
	switch t {
	case models.TypeLogEvents:
		hasTS := reTimestamp.MatchString(text)
		hasStack := reStackFrame.MatchString(text)
		if hasStack && !hasTS {
			return SubtypeErrorReport
		}
		errDensity := float64(len(reErrorWord.FindAllStringIndex(text, -1)) + len(reStackFrame.FindAllStringIndex(text, -1)))
		logDensity := float64(len(reTimestamp.FindAllStringIndex(text, -1)))
		if logDensity > 0 && errDensity > c.errorDensityFactor*logDensity {
			return SubtypeErrorReport
		}
	case models.TypeMetricsSeries:
		if reSpanID.MatchString(text) && reParentField.MatchString(text) {
			return SubtypeDistributedTrace
		}
		if reProfileHeader.MatchString(text) || reCallNotation.MatchString(text) {
			return SubtypeExecutionProfile
		}
	}
	return ""
}

// --- weak tier ---

func (c *Classifier) weak(text, declaredName, declaredMIME string) (models.ClassificationResult, bool) {
	scores := make(map[models.SemanticType]float64)
	signals := make(map[models.SemanticType][]string)

	for _, cue := range c.table.Cues {
		if cue.Signal.Pattern.MatchString(text) {
			scores[cue.Type] += cue.Signal.Weight
			signals[cue.Type] = append(signals[cue.Type], cue.Signal.ID)
		}
	}
	if t, ok := c.table.ExtHints[strings.ToLower(filepath.Ext(declaredName))]; ok {
		scores[t] += c.table.HintWeight
		signals[t] = append(signals[t], "hint.extension")
	}
	if t, ok := c.table.MIMEHints[normalizeMIME(declaredMIME)]; ok {
		scores[t] += c.table.HintWeight
		signals[t] = append(signals[t], "hint.mime")
	}

	// Deterministic winner: highest score, ties broken by type name.
	types := make([]models.SemanticType, 0, len(scores))
	for t := range scores {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if scores[types[i]] != scores[types[j]] {
			return scores[types[i]] > scores[types[j]]
		}
		return types[i] < types[j]
	})
	if len(types) == 0 || scores[types[0]] < 0.5 {
		return models.ClassificationResult{}, false
	}

	winner := types[0]
	confidence := scores[winner]
	if confidence > 0.84 {
		confidence = 0.84
	}

	res := models.ClassificationResult{
		SemanticType:   winner,
		ConfidenceTier: models.TierWeak,
		Confidence:     confidence,
		MatchedSignals: signals[winner],
		Reasoning:      fmt.Sprintf("weighted cues favour %s (score %.2f)", winner, scores[winner]),
	}
	res.Subtype = c.subtype(text, winner)
	return res, true
}

// --- shared helpers ---

func looksTextual(sample []byte) bool {
	if !utf8.Valid(sample) {
		return false
	}
	if bytes.IndexByte(sample, 0x00) >= 0 {
		return false
	}
	return true
}

// proseDensity scores how much of the text reads like sentences rather than
// structure: fraction of non-empty lines containing multi-word runs ending in
// sentence punctuation.
func proseDensity(text string) float64 {
	lines := strings.Split(text, "\n")
	var total, prose int
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if reProse.MatchString(line) {
			prose++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(prose) / float64(total)
}

func normalizeMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
