// Package uuid generates run ids.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
)

// Generator creates time-ordered UUIDv7 strings.
type Generator struct{}

var _ crawler.IDGenerator = Generator{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string. Ids sort by creation time, so run ids
// in logs order the same way the runs happened.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
