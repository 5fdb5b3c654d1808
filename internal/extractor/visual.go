package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// maxImageDimension bounds what gets sent to the vision collaborator; larger
// images are downscaled first.
const maxImageDimension = 2048

// VisionDescriber is the external vision-capable collaborator.
type VisionDescriber interface {
	Describe(ctx context.Context, image []byte, contentType string) (string, error)
}

// VisualExtractor wraps the vision collaborator's description of a screenshot
// or other visual evidence. Oversized images are downsized before delegation;
// images above the escalation threshold are not processed automatically.
type VisualExtractor struct {
	vision          VisionDescriber
	escalationBytes int64
	logger          *utils.Logger
}

func NewVisualExtractor(vision VisionDescriber, escalationBytes int64, logger *utils.Logger) *VisualExtractor {
	if escalationBytes <= 0 {
		escalationBytes = 5 << 20
	}
	return &VisualExtractor{vision: vision, escalationBytes: escalationBytes, logger: logger}
}

func (e *VisualExtractor) Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error) {
	if sub.SizeBytes >= e.escalationBytes {
		return &Outcome{Escalation: &EscalationNeed{
			Reason: fmt.Sprintf("image of %d bytes exceeds the %d byte automatic-processing threshold", sub.SizeBytes, e.escalationBytes),
			Preview: models.ArtifactPreview{
				Head:      fmt.Sprintf("binary image (%s), too large for inline preview", sub.DeclaredMIME),
				SizeBytes: sub.SizeBytes,
			},
		}}, nil
	}

	payload, format, width, height, err := e.prepare(sub.Payload)
	if err != nil {
		e.logger.Warn("Image decode failed, delegating raw bytes", "submission_id", sub.ID, "error", err)
		payload, format = sub.Payload, sub.DeclaredMIME
	}

	description, err := e.vision.Describe(ctx, payload, format)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.unavailableFallback(sub, width, height, err), nil
	}

	return &Outcome{Result: &models.ExtractionResult{
		Method:           "vision_description",
		Summary:          headline(description, 500),
		FullExtract:      description,
		CompressionRatio: ratio(len(description), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"width":  width,
			"height": height,
			"format": format,
		},
		Quality: models.QualityHigh,
	}}, nil
}

// Describe runs the vision path regardless of the escalation threshold; the
// escalation upgrade modes use it once the operator has accepted the cost.
func (e *VisualExtractor) Describe(ctx context.Context, sub *models.RawSubmission) (*models.ExtractionResult, error) {
	payload, format, width, height, err := e.prepare(sub.Payload)
	if err != nil {
		e.logger.Warn("Image decode failed, delegating raw bytes", "submission_id", sub.ID, "error", err)
		payload, format = sub.Payload, sub.DeclaredMIME
	}
	description, err := e.vision.Describe(ctx, payload, format)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.unavailableFallback(sub, width, height, err).Result, nil
	}
	return &models.ExtractionResult{
		Method:           "vision_description",
		Summary:          headline(description, 500),
		FullExtract:      description,
		CompressionRatio: ratio(len(description), len(sub.Payload)),
		Metadata:         map[string]interface{}{"width": width, "height": height, "format": format},
		Quality:          models.QualityHigh,
	}, nil
}

// prepare decodes the image and downscales anything larger than
// maxImageDimension, re-encoding as JPEG for the collaborator.
func (e *VisualExtractor) prepare(payload []byte) ([]byte, string, int, int, error) {
	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, "", 0, 0, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width <= maxImageDimension && height <= maxImageDimension {
		return payload, "image/" + format, width, height, nil
	}

	scale := float64(maxImageDimension) / float64(width)
	if height > width {
		scale = float64(maxImageDimension) / float64(height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(width)*scale), int(float64(height)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", 0, 0, err
	}
	return buf.Bytes(), "image/jpeg", width, height, nil
}

// unavailableFallback surfaces a partial result when the vision collaborator
// is unreachable; there is no local way to describe an image.
func (e *VisualExtractor) unavailableFallback(sub *models.RawSubmission, width, height int, cause error) *Outcome {
	e.logger.Warn("Vision collaborator unavailable", "submission_id", sub.ID, "error", cause)

	desc := fmt.Sprintf("visual evidence %q (%d bytes", sub.DeclaredName, sub.SizeBytes)
	if width > 0 {
		desc += fmt.Sprintf(", %dx%d", width, height)
	}
	desc += "); description unavailable"

	return &Outcome{Result: &models.ExtractionResult{
		Method:           "visual_unavailable",
		Summary:          desc,
		FullExtract:      desc,
		CompressionRatio: ratio(len(desc), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"vision_error": cause.Error(),
			"fallback":     true,
		},
		Quality: models.QualityLow,
	}}
}
