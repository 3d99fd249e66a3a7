package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"reviewbot/backend/internal/models"
)

// MemoryStore is an in-process Store used by tests and local runs.
// Atomic units run one at a time against a copy of the state, which replaces
// the committed state only when the unit succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	apps    map[string]models.Application
	claims  map[string]models.Claim
	actions []models.ReviewAction
	nextID  int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		apps:   make(map[string]models.Application),
		claims: make(map[string]models.Claim),
		nextID: 1,
	}}
}

func (s memState) clone() memState {
	out := memState{
		apps:    make(map[string]models.Application, len(s.apps)),
		claims:  make(map[string]models.Claim, len(s.claims)),
		actions: make([]models.ReviewAction, len(s.actions)),
		nextID:  s.nextID,
	}
	for k, v := range s.apps {
		out.apps[k] = v
	}
	for k, v := range s.claims {
		out.claims[k] = v
	}
	for i, a := range s.actions {
		a.Meta = a.Meta.Merge(nil)
		out.actions[i] = a
	}
	return out
}

// RunAtomic implements Store.
func (s *MemoryStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memRepository{state: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Seed stores an application as-is, bypassing the transaction layer.
func (s *MemoryStore) Seed(app models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	s.state.apps[app.ID] = app
}

func (s *MemoryStore) GetClaim(ctx context.Context, applicationID string) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memRepository{state: &s.state}).GetClaim(ctx, applicationID)
}

func (s *MemoryStore) FindApplication(ctx context.Context, id string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memRepository{state: &s.state}).GetApplication(ctx, id)
}

func (s *MemoryStore) ListPending(ctx context.Context, guildID string) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Application
	for _, app := range s.state.apps {
		if app.GuildID == guildID && app.Status.IsPending() {
			out = append(out, app)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return submittedAt(out[i]).Before(submittedAt(out[j]))
	})
	return out, nil
}

func submittedAt(app models.Application) time.Time {
	if app.SubmittedAt != nil {
		return *app.SubmittedAt
	}
	return app.CreatedAt
}

func (s *MemoryStore) ListActions(ctx context.Context, applicationID string) ([]models.ReviewAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewAction
	for _, a := range s.state.actions {
		if a.ApplicationID == applicationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListGuildActions(ctx context.Context, guildID string, since time.Time) ([]models.ReviewAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewAction
	for _, a := range s.state.actions {
		if a.GuildID == guildID && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListStaleClaims(ctx context.Context, cutoff time.Time) ([]models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Claim
	for id, c := range s.state.claims {
		app, ok := s.state.apps[id]
		if ok && !app.Status.IsTerminal() && c.ClaimedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(out[j].ClaimedAt) })
	return out, nil
}

type memRepository struct {
	state *memState
}

func (r *memRepository) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	app, ok := r.state.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (r *memRepository) CreateApplication(ctx context.Context, app *models.Application) error {
	if _, err := r.FindOpenApplication(ctx, app.GuildID, app.UserID); err == nil && !app.Status.IsTerminal() {
		return ErrOpenApplicationExists
	}
	if err := app.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	r.state.apps[app.ID] = *app
	return nil
}

// LockApplicant is a no-op: every unit already holds the store mutex.
func (r *memRepository) LockApplicant(ctx context.Context, guildID, userID string) error {
	return nil
}

func (r *memRepository) UpdateApplication(ctx context.Context, id string, u models.ApplicationUpdate) error {
	app, ok := r.state.apps[id]
	if !ok {
		return ErrNotFound
	}
	u.Apply(&app)
	app.UpdatedAt = time.Now().UTC()
	r.state.apps[id] = app
	return nil
}

func (r *memRepository) newest(match func(models.Application) bool) (*models.Application, error) {
	var found *models.Application
	for _, app := range r.state.apps {
		if !match(app) {
			continue
		}
		if found == nil || app.CreatedAt.After(found.CreatedAt) {
			a := app
			found = &a
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memRepository) FindOpenApplication(ctx context.Context, guildID, userID string) (*models.Application, error) {
	return r.newest(func(a models.Application) bool {
		return a.GuildID == guildID && a.UserID == userID && !a.Status.IsTerminal()
	})
}

func (r *memRepository) FindPermRejected(ctx context.Context, guildID, userID string) (*models.Application, error) {
	return r.newest(func(a models.Application) bool {
		return a.GuildID == guildID && a.UserID == userID && a.PermanentlyRejected
	})
}

func (r *memRepository) InsertAction(ctx context.Context, action *models.ReviewAction) (int64, error) {
	action.ID = r.state.nextID
	r.state.nextID++
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	r.state.actions = append(r.state.actions, *action)
	return action.ID, nil
}

func (r *memRepository) AnnotateAction(ctx context.Context, id int64, meta models.Metadata) error {
	for i := range r.state.actions {
		if r.state.actions[i].ID == id {
			r.state.actions[i].Meta = r.state.actions[i].Meta.Merge(meta)
			return nil
		}
	}
	return ErrNotFound
}

func (r *memRepository) GetClaim(ctx context.Context, applicationID string) (*models.Claim, error) {
	c, ok := r.state.claims[applicationID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memRepository) SetClaim(ctx context.Context, claim *models.Claim) error {
	if _, ok := r.state.claims[claim.ApplicationID]; ok {
		return ErrClaimExists
	}
	r.state.claims[claim.ApplicationID] = *claim
	return nil
}

func (r *memRepository) ClearClaim(ctx context.Context, applicationID string) error {
	delete(r.state.claims, applicationID)
	return nil
}
