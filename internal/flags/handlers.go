package flags

import (
	"context"
	"strings"

	"github.com/skeetgame-ingest/internal/domain"
)

// Pronouns flags profiles that declare a pronoun preference, recording
// the raw preference string as the note.
type Pronouns struct{}

func (Pronouns) Name() string { return "pronouns" }

func (Pronouns) Evaluate(_ context.Context, p *domain.ProfileSnapshot) (string, bool, error) {
	if p.Pronouns == "" {
		return "", false, nil
	}
	return p.Pronouns, true, nil
}

// Keyword flags profiles whose description mentions a keyword,
// case-insensitively. The flag name is "keyword:" plus the keyword.
type Keyword struct {
	Word string
}

func (h Keyword) Name() string { return "keyword:" + h.Word }

func (h Keyword) Evaluate(_ context.Context, p *domain.ProfileSnapshot) (string, bool, error) {
	if !strings.Contains(strings.ToLower(p.Description), strings.ToLower(h.Word)) {
		return "", false, nil
	}
	return h.Word, true, nil
}
