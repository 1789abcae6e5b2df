package repo

import (
	"context"
	"time"

	"github.com/skeetgame-ingest/internal/bsky"
	"github.com/skeetgame-ingest/internal/domain"
)

// Store is the persistent document store behind the Repository. Loads
// return the zero value (nil pointer, empty string) on miss rather than an
// error.
type Store interface {
	SavePlayer(ctx context.Context, player *domain.Player) error
	GetPlayer(ctx context.Context, did string) (*domain.Player, error)
	DeletePlayer(ctx context.Context, did string) error
	GetActivePlayerDIDs(ctx context.Context) ([]string, error)

	SaveProfile(ctx context.Context, profile *domain.ProfileSnapshot) error
	GetProfile(ctx context.Context, did string) (*domain.ProfileSnapshot, error)
	DeleteProfile(ctx context.Context, did string) error

	SaveFlags(ctx context.Context, flags *domain.ProfileFlags) error
	GetFlags(ctx context.Context, did string) (*domain.ProfileFlags, error)
	GetFlagsBatch(ctx context.Context, dids []string) ([]*domain.ProfileFlags, error)
	DeleteFlags(ctx context.Context, did string) error

	SaveRateLimit(ctx context.Context, rec *domain.RateLimitRecord) error
	GetRateLimit(ctx context.Context, did string) (*domain.RateLimitRecord, error)

	InsertEventBatch(ctx context.Context, records []domain.EventRecord) error
	GetEvent(ctx context.Context, did string, at time.Time) (*domain.EventRecord, error)
	DeleteEvent(ctx context.Context, did string, at time.Time) error
	Summarize(ctx context.Context, window time.Duration) ([]domain.EventSummary, error)
	RollupDaily(ctx context.Context, window time.Duration) (*domain.EventSummary, error)
	GetSummary(ctx context.Context, did string, runTime time.Time) (*domain.EventSummary, error)
	DeleteSummary(ctx context.Context, did string, runTime time.Time) error

	SaveHandle(ctx context.Context, handle, did string) error
	GetDIDByHandle(ctx context.Context, handle string) (string, error)
	DeleteHandle(ctx context.Context, handle string) error

	SaveFollows(ctx context.Context, did string, follows []string) error
	GetFollows(ctx context.Context, did string) ([]string, error)
	SaveFollowers(ctx context.Context, did string, followers []string) error
	GetFollowers(ctx context.Context, did string) ([]string, error)

	SaveGameState(ctx context.Context, state *domain.GameState) error
	GetGameState(ctx context.Context) (*domain.GameState, error)
	SaveEventSchedule(ctx context.Context, schedule string) error
	GetEventSchedule(ctx context.Context) (string, error)
}

// Directory is the account/profile directory collaborator used for cache
// fallbacks and onboarding
type Directory interface {
	DescribeRepo(ctx context.Context, actor string) (*bsky.RepoDescription, error)
	FetchProfile(ctx context.Context, pds, did string) (*bsky.ProfileRecord, error)
	ListFollows(ctx context.Context, pds, did string) ([]string, error)
}
