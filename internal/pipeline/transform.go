package pipeline

import (
	"context"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
)

// ReadingTransformer implements Transformer by decoding the JSON reading payload.
type ReadingTransformer struct{}

// NewTransformer creates a ReadingTransformer.
func NewTransformer() *ReadingTransformer {
	return &ReadingTransformer{}
}

func (t *ReadingTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.Reading, error) {
	return domain.ParseReadingMessage(raw)
}
