package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// smallFileBytes is the size under which passing a source file through
// verbatim is cheaper than parsing it.
const smallFileBytes = 2 << 10

// dialect holds the per-language pattern table for structural extraction.
type dialect struct {
	name       string
	extensions []string
	definition *regexp.Regexp
	importStmt *regexp.Regexp
	// blockEnd recognises where a definition's body stops for brace-less
	// languages; nil means brace counting applies.
	indentBased bool
}

var dialects = []dialect{
	{
		name:       "go",
		extensions: []string{".go"},
		definition: regexp.MustCompile(`^(func|type|var|const)\s+\(?\s*\w`),
		importStmt: regexp.MustCompile(`^import\s*[("]`),
	},
	{
		name:        "python",
		extensions:  []string{".py"},
		definition:  regexp.MustCompile(`^(def|class|async def)\s+\w`),
		importStmt:  regexp.MustCompile(`^(import\s|from\s+\S+\s+import)`),
		indentBased: true,
	},
	{
		name:       "javascript",
		extensions: []string{".js", ".ts", ".jsx", ".tsx"},
		definition: regexp.MustCompile(`^(export\s+)?(async\s+)?(function|class|const|let|var)\s+\w`),
		importStmt: regexp.MustCompile(`^(import\s|const\s+\w+\s*=\s*require\()`),
	},
}

// genericDeclaration matches declaration-like lines in dialects we have no
// table for.
var genericDeclaration = regexp.MustCompile(`(?i)^\s*(public|private|protected|static|func|def|fn|class|struct|interface|impl|module|sub|function)\b`)

// CodeExtractor implements the structural strategy: pull top-level
// definitions and imports, narrowing to the enclosing definition when a
// target symbol accompanies the submission.
type CodeExtractor struct {
	logger *utils.Logger
}

func NewCodeExtractor(logger *utils.Logger) *CodeExtractor {
	return &CodeExtractor{logger: logger}
}

func (e *CodeExtractor) Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error) {
	text := string(sub.Payload)

	if len(sub.Payload) <= smallFileBytes {
		// Already small; extraction would only lose context.
		return &Outcome{Result: &models.ExtractionResult{
			Method:           "verbatim",
			Summary:          headline(text, 500),
			FullExtract:      text,
			CompressionRatio: 1.0,
			Metadata:         map[string]interface{}{"reason": "small_file"},
			Quality:          models.QualityLow,
		}}, nil
	}

	d := detectDialect(sub.DeclaredName, text)
	if d == nil {
		return e.declarationFallback(sub, text), nil
	}

	lines := strings.Split(text, "\n")
	imports := collectImports(lines, d)
	defs := collectDefinitions(lines, d)

	if len(defs) == 0 {
		return e.declarationFallback(sub, text), nil
	}

	// A symbol hint (usually lifted from an accompanying stack trace) narrows
	// extraction to the enclosing definitions.
	if sub.SymbolHint != "" {
		if narrowed := filterBySymbol(defs, sub.SymbolHint); len(narrowed) > 0 {
			defs = narrowed
		}
	}

	var b strings.Builder
	if len(imports) > 0 {
		b.WriteString(strings.Join(imports, "\n"))
		b.WriteString("\n\n")
	}
	for _, def := range defs {
		b.WriteString(def.body)
		b.WriteString("\n\n")
	}

	extract := strings.TrimRight(b.String(), "\n")
	return &Outcome{Result: &models.ExtractionResult{
		Method:           "structural",
		Summary:          fmt.Sprintf("%s source: %d top-level definition(s), %d import line(s)", d.name, len(defs), len(imports)),
		FullExtract:      extract,
		CompressionRatio: ratio(len(extract), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"dialect":          d.name,
			"definition_count": len(defs),
			"import_lines":     len(imports),
			"symbol_hint":      sub.SymbolHint,
		},
		Quality: models.QualityHigh,
	}}, nil
}

// declarationFallback scans for declaration-like lines when no dialect table
// applies or structural parsing found nothing.
func (e *CodeExtractor) declarationFallback(sub *models.RawSubmission, text string) *Outcome {
	e.logger.Warn("Structural parse unavailable, scanning declarations", "submission_id", sub.ID, "name", sub.DeclaredName)

	var decls []string
	for _, line := range strings.Split(text, "\n") {
		if genericDeclaration.MatchString(line) {
			decls = append(decls, strings.TrimRight(line, " \t"))
		}
	}

	if len(decls) == 0 {
		return &Outcome{Result: &models.ExtractionResult{
			Method:           "verbatim",
			Summary:          headline(text, 500),
			FullExtract:      text,
			CompressionRatio: 1.0,
			Metadata:         map[string]interface{}{"reason": "no_declarations_found"},
			Quality:          models.QualityLow,
		}}
	}

	extract := strings.Join(decls, "\n")
	return &Outcome{Result: &models.ExtractionResult{
		Method:           "declaration_scan",
		Summary:          fmt.Sprintf("%d declaration-like line(s)", len(decls)),
		FullExtract:      extract,
		CompressionRatio: ratio(len(extract), len(sub.Payload)),
		Metadata:         map[string]interface{}{"declaration_count": len(decls)},
		Quality:          models.QualityLow,
	}}
}

type definition struct {
	header string
	body   string
}

func detectDialect(name, text string) *dialect {
	ext := strings.ToLower(filepath.Ext(name))
	for i := range dialects {
		for _, e := range dialects[i].extensions {
			if e == ext {
				return &dialects[i]
			}
		}
	}
	// No filename help: pick the dialect whose definition pattern fires most.
	best, bestCount := -1, 0
	for i := range dialects {
		count := 0
		for _, line := range strings.Split(text, "\n") {
			if dialects[i].definition.MatchString(line) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = i, count
		}
	}
	if best < 0 {
		return nil
	}
	return &dialects[best]
}

func collectImports(lines []string, d *dialect) []string {
	var imports []string
	inBlock := false
	for _, line := range lines {
		if d.importStmt.MatchString(line) {
			imports = append(imports, line)
			if d.name == "go" && strings.Contains(line, "(") {
				inBlock = true
			}
			continue
		}
		if inBlock {
			imports = append(imports, line)
			if strings.TrimSpace(line) == ")" {
				inBlock = false
			}
		}
	}
	return imports
}

// collectDefinitions gathers each top-level definition with its body, using
// brace counting for brace languages and dedent detection for indent-based
// ones.
func collectDefinitions(lines []string, d *dialect) []definition {
	var defs []definition
	i := 0
	for i < len(lines) {
		if !d.definition.MatchString(lines[i]) {
			i++
			continue
		}
		start := i
		if d.indentBased {
			i++
			for i < len(lines) {
				trimmed := strings.TrimSpace(lines[i])
				if trimmed != "" && !strings.HasPrefix(lines[i], " ") && !strings.HasPrefix(lines[i], "\t") {
					break
				}
				i++
			}
		} else {
			depth := 0
			opened := false
			for i < len(lines) {
				depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
				if strings.Contains(lines[i], "{") {
					opened = true
				}
				i++
				if opened && depth <= 0 {
					break
				}
				// Single-line declarations never open a brace.
				if !opened && i > start {
					break
				}
			}
		}
		body := strings.TrimRight(strings.Join(lines[start:i], "\n"), "\n")
		defs = append(defs, definition{header: lines[start], body: body})
	}
	return defs
}

func filterBySymbol(defs []definition, symbol string) []definition {
	var matched []definition
	for _, def := range defs {
		if strings.Contains(def.header, symbol) {
			matched = append(matched, def)
		}
	}
	return matched
}
