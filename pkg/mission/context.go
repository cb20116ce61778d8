// Package mission carries the per-mission identity that outlives a single
// prompt: who started it and who has contributed direction since the last
// commit.
package mission

import (
	"fmt"
	"strings"
	"sync"
)

// Person is a human participant in a mission.
type Person struct {
	ID    string
	Name  string
	Email string
}

func (p Person) display() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Context is passed explicitly to the coordinator and the PR tool. It is safe
// for concurrent use.
type Context struct {
	ID      string
	Creator Person

	mu        sync.Mutex
	coAuthors []Person
}

// New returns the context for mission id started by creator.
func New(id string, creator Person) *Context {
	return &Context{ID: id, Creator: creator}
}

// AddContributor records p as a co-author unless p is the creator or is
// already recorded. It reports whether p was added.
func (c *Context) AddContributor(p Person) bool {
	if p.ID == "" && p.Email == "" {
		return false
	}
	if c.isCreator(p) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.coAuthors {
		if samePerson(existing, p) {
			return false
		}
	}
	c.coAuthors = append(c.coAuthors, p)
	return true
}

// CoAuthors returns the co-authors recorded since the last reset, in the
// order they first contributed.
func (c *Context) CoAuthors() []Person {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Person(nil), c.coAuthors...)
}

// CommitTrailers renders one Co-authored-by line per co-author with an email.
func (c *Context) CommitTrailers() string {
	var lines []string
	for _, p := range c.CoAuthors() {
		if p.Email == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("Co-authored-by: %s <%s>", p.display(), p.Email))
	}
	return strings.Join(lines, "\n")
}

// ResetCoAuthors clears the co-author list. Call it after a commit or PR has
// credited them.
func (c *Context) ResetCoAuthors() {
	c.mu.Lock()
	c.coAuthors = nil
	c.mu.Unlock()
}

func (c *Context) isCreator(p Person) bool {
	if c.Creator.ID == "" && c.Creator.Email == "" {
		return false
	}
	return samePerson(c.Creator, p)
}

func samePerson(a, b Person) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.Email != "" && strings.EqualFold(a.Email, b.Email)
}
