package embed

import (
	"fmt"
	"strings"

	"github.com/thothlabs/thoth/internal/errors"
)

// validateBatch rejects empty batches and blank entries. No silent
// coercion: a whitespace-only chunk reaching the embedder is a caller bug.
func validateBatch(texts []string) error {
	if len(texts) == 0 {
		return errors.InvalidInput("empty embedding batch")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return errors.InvalidInput(fmt.Sprintf("blank text at index %d", i))
		}
	}
	return nil
}
