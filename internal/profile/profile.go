package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/recall/internal/storage"
)

// FactStore persists profile facts.
type FactStore interface {
	AddProfileFact(f storage.ProfileFact) error
	ListProfileFacts(userID, kind string) ([]storage.ProfileFact, error)
	DeleteProfileFact(id string) error
}

// Facts is a user's profile, split into long-lived static facts and
// recently observed dynamic ones.
type Facts struct {
	Static  []string `json:"static"`
	Dynamic []string `json:"dynamic"`
}

// Empty reports whether the profile has no facts of either kind.
func (f Facts) Empty() bool {
	return len(f.Static) == 0 && len(f.Dynamic) == 0
}

// Provider reads and maintains per-user profile facts.
type Provider struct {
	store FactStore
}

func NewProvider(store FactStore) *Provider {
	return &Provider{store: store}
}

// GetProfile returns the user's profile facts grouped by kind. A user with
// no facts gets an empty profile, not an error.
func (p *Provider) GetProfile(_ context.Context, userID string) (Facts, error) {
	var facts Facts
	static, err := p.store.ListProfileFacts(userID, "static")
	if err != nil {
		return Facts{}, fmt.Errorf("listing static facts: %w", err)
	}
	dynamic, err := p.store.ListProfileFacts(userID, "dynamic")
	if err != nil {
		return Facts{}, fmt.Errorf("listing dynamic facts: %w", err)
	}
	for _, f := range static {
		facts.Static = append(facts.Static, f.Fact)
	}
	for _, f := range dynamic {
		facts.Dynamic = append(facts.Dynamic, f.Fact)
	}
	return facts, nil
}

// Add stores a new fact and returns its generated ID.
func (p *Provider) Add(_ context.Context, userID, kind, fact string) (string, error) {
	id := uuid.New().String()
	err := p.store.AddProfileFact(storage.ProfileFact{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Fact:      fact,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("adding profile fact: %w", err)
	}
	return id, nil
}

// List returns the raw fact rows for a user and kind.
func (p *Provider) List(_ context.Context, userID, kind string) ([]storage.ProfileFact, error) {
	return p.store.ListProfileFacts(userID, kind)
}

// Remove deletes a fact by ID.
func (p *Provider) Remove(_ context.Context, id string) error {
	return p.store.DeleteProfileFact(id)
}
