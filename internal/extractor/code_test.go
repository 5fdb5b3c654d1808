package extractor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkandie/artifact-triage-api/internal/models"
)

// buildGoSource assembles a Go file large enough to trigger structural
// extraction rather than the small-file verbatim path.
func buildGoSource() string {
	var b strings.Builder
	b.WriteString("package payments\n\n")
	b.WriteString("import (\n\t\"fmt\"\n\t\"strings\"\n)\n\n")

	b.WriteString("func Charge(amount int) error {\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "\tfmt.Println(\"processing step %d of the charge\")\n", i)
	}
	b.WriteString("\treturn nil\n}\n\n")

	b.WriteString("func Refund(amount int) error {\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "\tfmt.Println(\"processing step %d of the refund\")\n", i)
	}
	b.WriteString("\treturn nil\n}\n\n")

	b.WriteString("type Ledger struct {\n\tentries []string\n}\n")
	return b.String()
}

func codeSubmission(text, name, symbol string) *models.RawSubmission {
	return &models.RawSubmission{
		ID:           "sub-4",
		Payload:      []byte(text),
		DeclaredName: name,
		SymbolHint:   symbol,
		SizeBytes:    int64(len(text)),
	}
}

func TestCodeExtractorStructural(t *testing.T) {
	src := buildGoSource()
	require.Greater(t, len(src), smallFileBytes)

	e := NewCodeExtractor(testLogger())
	out, err := e.Extract(context.Background(), codeSubmission(src, "payments.go", ""), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, "structural", res.Method)
	assert.Equal(t, "go", res.Metadata["dialect"])
	assert.Equal(t, 3, res.Metadata["definition_count"])
	assert.Contains(t, res.FullExtract, "func Charge(amount int) error {")
	assert.Contains(t, res.FullExtract, "func Refund(amount int) error {")
	assert.Contains(t, res.FullExtract, "type Ledger struct {")
	assert.Contains(t, res.FullExtract, "\"strings\"")
	assert.Less(t, res.CompressionRatio, 1.01)
}

func TestCodeExtractorNarrowsToSymbolHint(t *testing.T) {
	src := buildGoSource()

	e := NewCodeExtractor(testLogger())
	out, err := e.Extract(context.Background(), codeSubmission(src, "payments.go", "Refund"), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, 1, res.Metadata["definition_count"])
	assert.Contains(t, res.FullExtract, "func Refund")
	assert.NotContains(t, res.FullExtract, "func Charge")
}

func TestCodeExtractorUnknownSymbolKeepsAllDefinitions(t *testing.T) {
	src := buildGoSource()

	e := NewCodeExtractor(testLogger())
	out, err := e.Extract(context.Background(), codeSubmission(src, "payments.go", "DoesNotExist"), models.ClassificationResult{})
	require.NoError(t, err)

	assert.Equal(t, 3, out.Result.Metadata["definition_count"])
}

func TestCodeExtractorSmallFileVerbatim(t *testing.T) {
	src := "package tiny\n\nfunc Hello() string { return \"hi\" }\n"

	e := NewCodeExtractor(testLogger())
	out, err := e.Extract(context.Background(), codeSubmission(src, "tiny.go", ""), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, "verbatim", res.Method)
	assert.Equal(t, models.QualityLow, res.Quality)
	assert.Equal(t, src, res.FullExtract)
}

func TestCodeExtractorDeclarationFallback(t *testing.T) {
	var b strings.Builder
	b.WriteString("public class OrderService {\n")
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&b, "        // filler comment line %d to push past the verbatim size cut\n", i)
	}
	b.WriteString("    private int retries;\n")
	b.WriteString("    public void submit() {\n    }\n")
	b.WriteString("}\n")
	src := b.String()
	require.Greater(t, len(src), smallFileBytes)

	e := NewCodeExtractor(testLogger())
	out, err := e.Extract(context.Background(), codeSubmission(src, "OrderService.java", ""), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, "declaration_scan", res.Method)
	assert.Equal(t, models.QualityLow, res.Quality)
	assert.Contains(t, res.FullExtract, "public class OrderService {")
	assert.Contains(t, res.FullExtract, "private int retries;")
	assert.NotContains(t, res.FullExtract, "filler comment")
}

func TestCodeExtractorNoDeclarationsPassesThrough(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "SELECT order_id, total FROM orders WHERE shard = %d ORDER BY total DESC;\n", i)
	}
	src := b.String()
	require.Greater(t, len(src), smallFileBytes)

	e := NewCodeExtractor(testLogger())
	out, err := e.Extract(context.Background(), codeSubmission(src, "report.sql", ""), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, "verbatim", res.Method)
	assert.Equal(t, models.QualityLow, res.Quality)
	assert.Equal(t, "no_declarations_found", res.Metadata["reason"])
	assert.Equal(t, src, res.FullExtract)
}

func TestDetectDialectBySampling(t *testing.T) {
	src := "def handler(event):\n    return event\n\nclass Worker:\n    pass\n"
	d := detectDialect("", src)
	require.NotNil(t, d)
	assert.Equal(t, "python", d.name)
}
