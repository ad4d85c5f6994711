package classifier

import (
	"context"
	"fmt"

	"github.com/iamwavecut/ngguard/internal/db"
)

type exampleSource interface {
	GetRecentSpamFingerprints(ctx context.Context, kind db.FingerprintKind, limit int) ([]*db.SpamFingerprint, error)
}

// LoadExamples returns the newest stored spam texts for the confirmation
// prompt.
func LoadExamples(ctx context.Context, source exampleSource, limit int) ([]string, error) {
	fps, err := source.GetRecentSpamFingerprints(ctx, db.FingerprintText, limit)
	if err != nil {
		return nil, fmt.Errorf("load spam examples: %w", err)
	}
	examples := make([]string, 0, len(fps))
	for _, fp := range fps {
		examples = append(examples, fp.Text)
	}
	return examples, nil
}
