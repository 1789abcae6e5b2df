package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skeetgame-ingest/internal/domain"
)

// EventBufferLimit is the write-back threshold for event records; reaching
// it flushes the buffer as one batch insert before accepting more.
const EventBufferLimit = 2000

// staleAfter is how long an untouched player entry stays cached
const staleAfter = time.Hour

// Repository is the cache-aside, write-back facade over the persistent
// store. It is the sole writer of all entity state: low-volume entities are
// written through, high-volume event records accumulate in a bounded buffer
// flushed in batches. Reads never fail on miss; they return nil.
type Repository struct {
	store     Store
	directory Directory
	logger    *slog.Logger

	mu         sync.Mutex
	players    map[string]*domain.Player
	profiles   map[string]*domain.ProfileSnapshot
	handles    map[string]string
	follows    map[string][]string
	followers  map[string][]string
	rateLimits map[string]*domain.RateLimitRecord
	events     map[string]*domain.EventRecord
	summaries  map[string]*domain.EventSummary
	active     map[string]struct{}
	buffer     []domain.EventRecord
}

// New creates a Repository over the given store and directory
func New(store Store, directory Directory, logger *slog.Logger) *Repository {
	return &Repository{
		store:      store,
		directory:  directory,
		logger:     logger,
		players:    make(map[string]*domain.Player),
		profiles:   make(map[string]*domain.ProfileSnapshot),
		handles:    make(map[string]string),
		follows:    make(map[string][]string),
		followers:  make(map[string][]string),
		rateLimits: make(map[string]*domain.RateLimitRecord),
		events:     make(map[string]*domain.EventRecord),
		summaries:  make(map[string]*domain.EventSummary),
		active:     make(map[string]struct{}),
	}
}

// Init loads the active-player set from the store
func (r *Repository) Init(ctx context.Context) error {
	dids, err := r.store.GetActivePlayerDIDs(ctx)
	if err != nil {
		return fmt.Errorf("loading active players: %w", err)
	}
	r.mu.Lock()
	for _, did := range dids {
		r.active[did] = struct{}{}
	}
	r.mu.Unlock()
	r.logger.Info("active player set loaded", "count", len(dids))
	return nil
}

func eventKey(did string, at time.Time) string {
	return fmt.Sprintf("%s:%d", did, at.UnixMilli())
}

// IsPlayerPlaying reports membership in the active-player set
func (r *Repository) IsPlayerPlaying(did string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[did]
	return ok
}

// ActiveCount returns the size of the active-player set
func (r *Repository) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// ActivePlayerDIDs returns the identifiers currently in play status
func (r *Repository) ActivePlayerDIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	dids := make([]string, 0, len(r.active))
	for did := range r.active {
		dids = append(dids, did)
	}
	return dids
}

// OverrideStatus flips a player's status, adjusting the active set and
// persisting the player record when one exists
func (r *Repository) OverrideStatus(ctx context.Context, did string, status domain.PlayerStatus) error {
	r.mu.Lock()
	if status == domain.StatusPlay {
		r.active[did] = struct{}{}
	} else {
		delete(r.active, did)
	}
	r.mu.Unlock()

	player, err := r.Player(ctx, did)
	if err != nil {
		return err
	}
	if player == nil {
		return nil
	}
	player.Status = status
	return r.SavePlayer(ctx, player)
}

// Player loads a player: cache first, then store. Miss returns (nil, nil).
// A store hit backfills the cache, the handle index and the active set.
func (r *Repository) Player(ctx context.Context, did string) (*domain.Player, error) {
	r.mu.Lock()
	if player, ok := r.players[did]; ok {
		r.mu.Unlock()
		return player, nil
	}
	r.mu.Unlock()

	player, err := r.store.GetPlayer(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("loading player %s: %w", did, err)
	}
	if player == nil {
		return nil, nil
	}
	if player.Metadata == nil {
		player.Metadata = make(domain.Metadata)
	}

	r.mu.Lock()
	r.players[did] = player
	r.handles[player.Handle] = did
	if player.Status == domain.StatusPlay {
		r.active[did] = struct{}{}
	} else {
		delete(r.active, did)
	}
	r.mu.Unlock()
	return player, nil
}

// SavePlayer writes a player through to the store and updates the cache
// and the active set
func (r *Repository) SavePlayer(ctx context.Context, player *domain.Player) error {
	if err := r.store.SavePlayer(ctx, player); err != nil {
		return fmt.Errorf("saving player %s: %w", player.DID, err)
	}
	r.mu.Lock()
	r.players[player.DID] = player
	if player.Handle != "" {
		r.handles[player.Handle] = player.DID
	}
	if player.Status == domain.StatusPlay {
		r.active[player.DID] = struct{}{}
	} else {
		delete(r.active, player.DID)
	}
	r.mu.Unlock()
	return nil
}

// DeletePlayer drops a player from the caches and the store
func (r *Repository) DeletePlayer(ctx context.Context, did string) error {
	player, err := r.Player(ctx, did)
	if err != nil {
		return err
	}
	if err := r.store.DeletePlayer(ctx, did); err != nil {
		return fmt.Errorf("deleting player %s: %w", did, err)
	}
	r.mu.Lock()
	if player != nil {
		delete(r.handles, player.Handle)
	}
	delete(r.players, did)
	delete(r.active, did)
	r.mu.Unlock()
	return nil
}

// EvictStalePlayers drops cached player entries whose last activity is
// older than an hour. Persisted state is untouched.
func (r *Repository) EvictStalePlayers() int {
	cutoff := time.Now().Add(-staleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for did, player := range r.players {
		if player.LastActivity.Before(cutoff) {
			delete(r.players, did)
			evicted++
		}
	}
	return evicted
}

// ResolveDID resolves a handle to an identifier: index cache, then store,
// then the account directory, backfilling the index on success. Returns ""
// when the handle is unknown everywhere.
func (r *Repository) ResolveDID(ctx context.Context, handle string) (string, error) {
	r.mu.Lock()
	if did, ok := r.handles[handle]; ok {
		r.mu.Unlock()
		return did, nil
	}
	r.mu.Unlock()

	did, err := r.store.GetDIDByHandle(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("resolving handle %s: %w", handle, err)
	}
	if did == "" {
		desc, err := r.directory.DescribeRepo(ctx, handle)
		if err != nil {
			return "", fmt.Errorf("describing repo for %s: %w", handle, err)
		}
		if desc == nil || desc.DID == "" {
			return "", nil
		}
		did = desc.DID
		if err := r.store.SaveHandle(ctx, handle, did); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	r.handles[handle] = did
	r.mu.Unlock()
	return did, nil
}

// Profile loads a profile snapshot cache-aside. Rows written before follow
// counts existed are back-filled from the follow list and re-persisted.
func (r *Repository) Profile(ctx context.Context, did string) (*domain.ProfileSnapshot, error) {
	r.mu.Lock()
	if profile, ok := r.profiles[did]; ok {
		r.mu.Unlock()
		return profile, nil
	}
	r.mu.Unlock()

	profile, err := r.store.GetProfile(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", did, err)
	}
	if profile == nil {
		return nil, nil
	}

	if profile.FollowsCount == 0 {
		follows, err := r.Follows(ctx, did)
		if err != nil {
			return nil, err
		}
		if len(follows) > 0 {
			profile.FollowsCount = len(follows)
			if err := r.SaveProfile(ctx, profile); err != nil {
				return nil, err
			}
		}
	}

	r.mu.Lock()
	r.profiles[did] = profile
	r.mu.Unlock()
	return profile, nil
}

// SaveProfile writes a profile snapshot through to the store
func (r *Repository) SaveProfile(ctx context.Context, profile *domain.ProfileSnapshot) error {
	if err := r.store.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("saving profile %s: %w", profile.DID, err)
	}
	r.mu.Lock()
	r.profiles[profile.DID] = profile
	r.mu.Unlock()
	return nil
}

// DeleteProfile removes a profile snapshot
func (r *Repository) DeleteProfile(ctx context.Context, did string) error {
	if err := r.store.DeleteProfile(ctx, did); err != nil {
		return fmt.Errorf("deleting profile %s: %w", did, err)
	}
	r.mu.Lock()
	delete(r.profiles, did)
	r.mu.Unlock()
	return nil
}

// Flags loads a profile flag list straight from the store
func (r *Repository) Flags(ctx context.Context, did string) (*domain.ProfileFlags, error) {
	flags, err := r.store.GetFlags(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("loading flags %s: %w", did, err)
	}
	return flags, nil
}

// FlagsBatch loads flag lists for many identifiers
func (r *Repository) FlagsBatch(ctx context.Context, dids []string) ([]*domain.ProfileFlags, error) {
	return r.store.GetFlagsBatch(ctx, dids)
}

// SaveFlags writes a profile flag list through to the store
func (r *Repository) SaveFlags(ctx context.Context, flags *domain.ProfileFlags) error {
	if err := r.store.SaveFlags(ctx, flags); err != nil {
		return fmt.Errorf("saving flags %s: %w", flags.DID, err)
	}
	return nil
}

// DeleteFlags removes a profile flag list
func (r *Repository) DeleteFlags(ctx context.Context, did string) error {
	return r.store.DeleteFlags(ctx, did)
}

// RateLimit loads a rate-limit record cache-aside, nil on miss
func (r *Repository) RateLimit(ctx context.Context, did string) (*domain.RateLimitRecord, error) {
	r.mu.Lock()
	if rec, ok := r.rateLimits[did]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	r.mu.Unlock()

	rec, err := r.store.GetRateLimit(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("loading rate limit %s: %w", did, err)
	}
	if rec == nil {
		return nil, nil
	}
	r.mu.Lock()
	r.rateLimits[did] = rec
	r.mu.Unlock()
	return rec, nil
}

// SaveRateLimit writes a rate-limit record through to the store
func (r *Repository) SaveRateLimit(ctx context.Context, rec *domain.RateLimitRecord) error {
	if err := r.store.SaveRateLimit(ctx, rec); err != nil {
		return fmt.Errorf("saving rate limit %s: %w", rec.DID, err)
	}
	r.mu.Lock()
	r.rateLimits[rec.DID] = rec
	r.mu.Unlock()
	return nil
}

// InsertEvent buffers an event record for write-back. Reaching the buffer
// limit flushes synchronously before returning.
func (r *Repository) InsertEvent(ctx context.Context, rec domain.EventRecord) error {
	r.mu.Lock()
	r.buffer = append(r.buffer, rec)
	r.events[eventKey(rec.DID, rec.Time)] = &rec
	full := len(r.buffer) >= EventBufferLimit
	r.mu.Unlock()

	if full {
		return r.FlushEvents(ctx)
	}
	return nil
}

// FlushEvents drains the write-back buffer as one batch insert. An empty
// buffer is a no-op. The caller must invoke this after ingestion stops.
func (r *Repository) FlushEvents(ctx context.Context) error {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return nil
	}
	pending := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if err := r.store.InsertEventBatch(ctx, pending); err != nil {
		// Put the batch back so a later flush can retry
		r.mu.Lock()
		r.buffer = append(pending, r.buffer...)
		r.mu.Unlock()
		return fmt.Errorf("flushing event buffer: %w", err)
	}
	r.logger.Debug("event buffer flushed", "count", len(pending))
	return nil
}

// BufferedEvents returns the current write-back buffer depth
func (r *Repository) BufferedEvents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Event loads one event record cache-aside, nil on miss
func (r *Repository) Event(ctx context.Context, did string, at time.Time) (*domain.EventRecord, error) {
	key := eventKey(did, at)
	r.mu.Lock()
	if rec, ok := r.events[key]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	r.mu.Unlock()

	rec, err := r.store.GetEvent(ctx, did, at)
	if err != nil {
		return nil, fmt.Errorf("loading event record: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	r.mu.Lock()
	r.events[key] = rec
	r.mu.Unlock()
	return rec, nil
}

// DeleteEvent removes one event record from store and cache
func (r *Repository) DeleteEvent(ctx context.Context, did string, at time.Time) error {
	if err := r.store.DeleteEvent(ctx, did, at); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.events, eventKey(did, at))
	r.mu.Unlock()
	return nil
}

// Summarize aggregates the trailing window of event records in the store
func (r *Repository) Summarize(ctx context.Context, window time.Duration) ([]domain.EventSummary, error) {
	summaries, err := r.store.Summarize(ctx, window)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for i := range summaries {
		s := summaries[i]
		r.summaries[eventKey(s.DID, s.RunTime)] = &s
	}
	r.mu.Unlock()
	return summaries, nil
}

// RollupDaily folds the trailing day's summaries into one aggregate row
func (r *Repository) RollupDaily(ctx context.Context, window time.Duration) (*domain.EventSummary, error) {
	return r.store.RollupDaily(ctx, window)
}

// Summary loads one summarization row cache-aside, nil on miss
func (r *Repository) Summary(ctx context.Context, did string, runTime time.Time) (*domain.EventSummary, error) {
	key := eventKey(did, runTime)
	r.mu.Lock()
	if s, ok := r.summaries[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.store.GetSummary(ctx, did, runTime)
	if err != nil {
		return nil, fmt.Errorf("loading event summary: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	r.mu.Lock()
	r.summaries[key] = s
	r.mu.Unlock()
	return s, nil
}

// DeleteSummary removes one summarization row from store and cache
func (r *Repository) DeleteSummary(ctx context.Context, did string, runTime time.Time) error {
	if err := r.store.DeleteSummary(ctx, did, runTime); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.summaries, eventKey(did, runTime))
	r.mu.Unlock()
	return nil
}

// SaveFollows writes a follow list through to the store
func (r *Repository) SaveFollows(ctx context.Context, did string, follows []string) error {
	if err := r.store.SaveFollows(ctx, did, follows); err != nil {
		return fmt.Errorf("saving follows %s: %w", did, err)
	}
	r.mu.Lock()
	r.follows[did] = follows
	r.mu.Unlock()
	return nil
}

// Follows loads a follow list cache-aside, nil on miss
func (r *Repository) Follows(ctx context.Context, did string) ([]string, error) {
	r.mu.Lock()
	if follows, ok := r.follows[did]; ok {
		r.mu.Unlock()
		return follows, nil
	}
	r.mu.Unlock()

	follows, err := r.store.GetFollows(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("loading follows %s: %w", did, err)
	}
	if follows == nil {
		return nil, nil
	}
	r.mu.Lock()
	r.follows[did] = follows
	r.mu.Unlock()
	return follows, nil
}

// SaveFollowers writes a follower list through to the store
func (r *Repository) SaveFollowers(ctx context.Context, did string, followers []string) error {
	if err := r.store.SaveFollowers(ctx, did, followers); err != nil {
		return fmt.Errorf("saving followers %s: %w", did, err)
	}
	r.mu.Lock()
	r.followers[did] = followers
	r.mu.Unlock()
	return nil
}

// Followers loads a follower list cache-aside, nil on miss
func (r *Repository) Followers(ctx context.Context, did string) ([]string, error) {
	r.mu.Lock()
	if followers, ok := r.followers[did]; ok {
		r.mu.Unlock()
		return followers, nil
	}
	r.mu.Unlock()

	followers, err := r.store.GetFollowers(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("loading followers %s: %w", did, err)
	}
	if followers == nil {
		return nil, nil
	}
	r.mu.Lock()
	r.followers[did] = followers
	r.mu.Unlock()
	return followers, nil
}

// DoesFollow reports whether a follows b
func (r *Repository) DoesFollow(ctx context.Context, a, b string) (bool, error) {
	follows, err := r.Follows(ctx, a)
	if err != nil {
		return false, err
	}
	for _, did := range follows {
		if did == b {
			return true, nil
		}
	}
	return false, nil
}

// IsMutual reports whether a and b follow each other
func (r *Repository) IsMutual(ctx context.Context, a, b string) (bool, error) {
	ab, err := r.DoesFollow(ctx, a, b)
	if err != nil || !ab {
		return false, err
	}
	return r.DoesFollow(ctx, b, a)
}

// GameState loads the process-wide game state, creating it with defaults
// on first access
func (r *Repository) GameState(ctx context.Context) (*domain.GameState, error) {
	state, err := r.store.GetGameState(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading game state: %w", err)
	}
	if state == nil {
		state = domain.DefaultGameState()
		if err := r.store.SaveGameState(ctx, state); err != nil {
			return nil, fmt.Errorf("creating default game state: %w", err)
		}
	}
	return state, nil
}

// SaveGameState writes the game state row
func (r *Repository) SaveGameState(ctx context.Context, state *domain.GameState) error {
	return r.store.SaveGameState(ctx, state)
}

// EventSchedule loads the event schedule document, "" when unset
func (r *Repository) EventSchedule(ctx context.Context) (string, error) {
	return r.store.GetEventSchedule(ctx)
}

// SaveEventSchedule writes the event schedule document
func (r *Repository) SaveEventSchedule(ctx context.Context, schedule string) error {
	return r.store.SaveEventSchedule(ctx, schedule)
}

// CreatePlayer performs full onboarding for a new identifier: a fresh
// rate-limit record, the directory profile and home server, the complete
// follow list, an empty flag set and the player row itself.
func (r *Repository) CreatePlayer(ctx context.Context, did string) (*domain.Player, error) {
	limits := &domain.RateLimitRecord{DID: did}
	if err := r.SaveRateLimit(ctx, limits); err != nil {
		return nil, err
	}

	desc, err := r.directory.DescribeRepo(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("describing repo for %s: %w", did, err)
	}
	if desc == nil {
		return nil, fmt.Errorf("onboarding %s: %w", did, domain.ErrPlayerNotFound)
	}

	player := &domain.Player{
		DID:          did,
		Handle:       desc.Handle,
		PDS:          desc.PDS,
		Status:       domain.StatusInitial,
		LastActivity: time.Now(),
		Inventory:    []domain.Item{},
		Metadata:     make(domain.Metadata),
	}

	profile := &domain.ProfileSnapshot{
		DID:    did,
		Handle: desc.Handle,
	}
	if rec, err := r.directory.FetchProfile(ctx, desc.PDS, did); err != nil {
		r.logger.Warn("profile fetch failed during onboarding", "did", did, "error", err)
	} else if rec != nil {
		profile.DisplayName = rec.DisplayName
		profile.Description = rec.Description
		profile.Pronouns = rec.Pronouns
	}

	follows, err := r.directory.ListFollows(ctx, desc.PDS, did)
	if err != nil {
		return nil, fmt.Errorf("fetching follows for %s: %w", did, err)
	}
	profile.FollowsCount = len(follows)

	if err := r.store.SaveHandle(ctx, desc.Handle, did); err != nil {
		return nil, err
	}
	if err := r.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	if err := r.SaveFlags(ctx, &domain.ProfileFlags{DID: did, Flags: []domain.ProfileFlag{}}); err != nil {
		return nil, err
	}
	if err := r.SavePlayer(ctx, player); err != nil {
		return nil, err
	}
	if err := r.SaveFollows(ctx, did, follows); err != nil {
		return nil, err
	}

	r.logger.Info("player onboarded", "did", did, "handle", desc.Handle, "follows", len(follows))
	return player, nil
}
