package domain

import (
	"strings"
	"time"
)

// ProfileSnapshot holds the network profile fields the game cares about.
// FollowsCount is back-filled lazily for rows written before it existed.
type ProfileSnapshot struct {
	DID          string `json:"did"`
	Handle       string `json:"handle"`
	Description  string `json:"description"`
	DisplayName  string `json:"display_name"`
	FollowsCount int    `json:"follows_count"`
	Pronouns     string `json:"pronouns"`
}

// SubjectPronoun returns the subject part of a slash-delimited pronoun
// preference, defaulting to "she"
func (p ProfileSnapshot) SubjectPronoun() string {
	parts := strings.Split(p.Pronouns, "/")
	if p.Pronouns == "" || parts[0] == "" {
		return "she"
	}
	return parts[0]
}

// ObjectPronoun returns the object part, defaulting to "her"
func (p ProfileSnapshot) ObjectPronoun() string {
	parts := strings.Split(p.Pronouns, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "her"
	}
	return parts[1]
}

// ProfileFlag is one named annotation set on a profile by game logic
type ProfileFlag struct {
	Name  string    `json:"name"`
	Note  string    `json:"note,omitempty"`
	SetAt time.Time `json:"set_at"`
}

// ProfileFlags is the ordered flag list for one identifier
type ProfileFlags struct {
	DID   string        `json:"did"`
	Flags []ProfileFlag `json:"flags"`
}

// Upsert replaces the flag matching by name, else appends it
func (f *ProfileFlags) Upsert(flag ProfileFlag) {
	for i := range f.Flags {
		if f.Flags[i].Name == flag.Name {
			f.Flags[i] = flag
			return
		}
	}
	f.Flags = append(f.Flags, flag)
}

// Remove deletes the flag matching by name, reporting whether it existed
func (f *ProfileFlags) Remove(name string) bool {
	for i := range f.Flags {
		if f.Flags[i].Name == name {
			f.Flags = append(f.Flags[:i], f.Flags[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether a flag with the given name is set
func (f *ProfileFlags) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Get returns the flag with the given name, if set
func (f *ProfileFlags) Get(name string) (ProfileFlag, bool) {
	for i := range f.Flags {
		if f.Flags[i].Name == name {
			return f.Flags[i], true
		}
	}
	return ProfileFlag{}, false
}
