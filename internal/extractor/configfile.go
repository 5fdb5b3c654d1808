package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// RedactionMarker replaces every value whose key looks secret-like.
const RedactionMarker = "***REDACTED***"

var reSecretKey = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api[_-]?key|apikey|private[_-]?key|credential|access[_-]?key)`)

// ConfigExtractor implements the parse-and-redact strategy: detect the
// structured format, redact secret-like values in the parsed tree, and
// re-serialize in the original format. Configuration correctness depends on
// completeness, so no compression is applied.
type ConfigExtractor struct {
	logger *utils.Logger
}

func NewConfigExtractor(logger *utils.Logger) *ConfigExtractor {
	return &ConfigExtractor{logger: logger}
}

func (e *ConfigExtractor) Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error) {
	format, redacted, count, err := parseAndRedact(sub.Payload)
	if err != nil {
		return e.rawFallback(sub), nil
	}

	return &Outcome{Result: &models.ExtractionResult{
		Method:           "parse_and_redact",
		Summary:          fmt.Sprintf("%s configuration, %d secret value(s) redacted", format, count),
		FullExtract:      redacted,
		CompressionRatio: ratio(len(redacted), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"format":         format,
			"redacted_count": count,
		},
		Quality: models.QualityHigh,
	}}, nil
}

// rawFallback passes the document through untouched when no structured parser
// accepts it. Secret redaction cannot be guaranteed on an unparsed document,
// so the quality is low and the method recorded for audit.
func (e *ConfigExtractor) rawFallback(sub *models.RawSubmission) *Outcome {
	e.logger.Warn("Config artifact did not parse in any known format", "submission_id", sub.ID)
	text := string(sub.Payload)
	return &Outcome{Result: &models.ExtractionResult{
		Method:           "config_raw",
		Summary:          headline(text, 500),
		FullExtract:      text,
		CompressionRatio: 1.0,
		Metadata:         map[string]interface{}{"parse_failed": true},
		Quality:          models.QualityLow,
	}}
}

// parseAndRedact probes the formats strictest-first (JSON, TOML, INI, YAML —
// YAML last because it accepts almost anything) and returns the re-serialized
// document plus the number of redacted values.
func parseAndRedact(payload []byte) (format string, out string, count int, err error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", "", 0, fmt.Errorf("empty document")
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		if out, count, err = redactJSON(trimmed); err == nil {
			return "json", out, count, nil
		}
	}
	if equalsDelimited(trimmed) {
		if out, count, err = redactTOML(trimmed); err == nil {
			return "toml", out, count, nil
		}
		if out, count, err = redactINI(trimmed); err == nil {
			return "ini", out, count, nil
		}
	}
	if out, count, err = redactYAML(payload); err == nil {
		return "yaml", out, count, nil
	}
	return "", "", 0, fmt.Errorf("document matches no supported structured format")
}

// equalsDelimited reports whether the document's data lines use "=" as their
// key separator. A YAML mapping whose values merely contain "=" (flag strings,
// DSNs) must not reach the INI probe: ini.v1 accepts ":" as a delimiter too
// and would happily re-serialize the mapping in the wrong format.
func equalsDelimited(trimmed []byte) bool {
	eq, colon := 0, 0
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' || line[0] == ';' || line[0] == '[' {
			continue
		}
		ei := bytes.IndexByte(line, '=')
		ci := bytes.IndexByte(line, ':')
		switch {
		case ei >= 0 && (ci < 0 || ei < ci):
			eq++
		case ci >= 0:
			colon++
		}
	}
	return eq > colon
}

func redactJSON(data []byte) (string, int, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", 0, err
	}
	count := redactTree(v)
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", 0, err
	}
	return string(out), count, nil
}

func redactTOML(data []byte) (string, int, error) {
	var m map[string]interface{}
	if err := toml.Unmarshal(data, &m); err != nil {
		return "", 0, err
	}
	if len(m) == 0 {
		return "", 0, fmt.Errorf("empty toml document")
	}
	count := redactTree(m)
	out, err := toml.Marshal(m)
	if err != nil {
		return "", 0, err
	}
	return string(out), count, nil
}

func redactINI(data []byte) (string, int, error) {
	f, err := ini.Load(data)
	if err != nil {
		return "", 0, err
	}
	count := 0
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			if reSecretKey.MatchString(key.Name()) {
				key.SetValue(RedactionMarker)
				count++
			}
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return "", 0, err
	}
	return buf.String(), count, nil
}

// redactYAML works on the yaml.Node tree rather than a plain map so comments,
// key order, and scalar quoting styles survive the round trip.
func redactYAML(data []byte) (string, int, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return "", 0, err
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return "", 0, fmt.Errorf("yaml document is not a mapping")
	}
	count := redactYAMLNode(root.Content[0])
	out, err := yaml.Marshal(root.Content[0])
	if err != nil {
		return "", 0, err
	}
	return string(out), count, nil
}

func redactYAMLNode(node *yaml.Node) int {
	count := 0
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind == yaml.ScalarNode && reSecretKey.MatchString(key.Value) {
				value.Value = RedactionMarker
				value.Tag = "!!str"
				count++
				continue
			}
			count += redactYAMLNode(value)
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			count += redactYAMLNode(child)
		}
	}
	return count
}

// redactTree walks a decoded map/slice tree replacing values under
// secret-like keys. Maps are mutated in place.
func redactTree(v interface{}) int {
	count := 0
	switch t := v.(type) {
	case map[string]interface{}:
		for key, value := range t {
			if reSecretKey.MatchString(key) {
				if _, nested := value.(map[string]interface{}); !nested {
					t[key] = RedactionMarker
					count++
					continue
				}
			}
			count += redactTree(value)
		}
	case []interface{}:
		for _, item := range t {
			count += redactTree(item)
		}
	}
	return count
}
