// Package pullrequest opens (or finds) the pull request for a mission branch.
package pullrequest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/holon-run/mission/pkg/events"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/mission"
	"golang.org/x/oauth2"
)

// Input describes the pull request to open.
type Input struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// Output identifies the pull request. Existing is true when an open pull
// request for the head branch was found instead of created.
type Output struct {
	Number   int
	URL      string
	State    string
	Existing bool
}

// NewGitHubClient returns an authenticated API client.
func NewGitHubClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// Creator opens pull requests in one repository.
type Creator struct {
	client *github.Client
	owner  string
	repo   string
}

// NewCreator returns a Creator for repo in owner/repo form.
func NewCreator(client *github.Client, repo string) (*Creator, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid repository %q, expected owner/repo", repo)
	}
	return &Creator{client: client, owner: owner, repo: name}, nil
}

// Create returns the open pull request for in.Head if one exists, otherwise
// opens a new one.
func (c *Creator) Create(ctx context.Context, in Input) (Output, error) {
	if in.Head == "" || in.Base == "" {
		return Output{}, fmt.Errorf("head and base branches are required")
	}

	existing, _, err := c.client.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		State:       "open",
		Head:        c.owner + ":" + in.Head,
		Base:        in.Base,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return Output{}, fmt.Errorf("failed to list pull requests: %w", err)
	}
	if len(existing) > 0 {
		pr := existing[0]
		holonlog.Info("reusing open pull request", "number", pr.GetNumber(), "head", in.Head)
		return Output{Number: pr.GetNumber(), URL: pr.GetHTMLURL(), State: pr.GetState(), Existing: true}, nil
	}

	pr, _, err := c.client.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.Ptr(in.Title),
		Head:  github.Ptr(in.Head),
		Base:  github.Ptr(in.Base),
		Body:  github.Ptr(in.Body),
		Draft: github.Ptr(in.Draft),
	})
	if err != nil {
		return Output{}, fmt.Errorf("failed to create pull request: %w", err)
	}
	holonlog.Info("pull request created", "number", pr.GetNumber(), "url", pr.GetHTMLURL())
	return Output{Number: pr.GetNumber(), URL: pr.GetHTMLURL(), State: pr.GetState()}, nil
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Creator *Creator
	Head    string
	Base    string
	// Title defaults to "Mission <id>".
	Title string
	Draft bool
}

// Publisher opens the mission's pull request once the mission is idle and
// credits co-authors in its body.
type Publisher struct {
	cfg PublisherConfig
}

// NewPublisher validates cfg.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Creator == nil {
		return nil, fmt.Errorf("creator is required")
	}
	if cfg.Head == "" {
		return nil, fmt.Errorf("head branch is required")
	}
	if cfg.Base == "" {
		cfg.Base = "main"
	}
	return &Publisher{cfg: cfg}, nil
}

// Publish returns pr:created for a new pull request or pr:status for one
// that was already open. Co-authors are reset only once credited.
func (p *Publisher) Publish(ctx context.Context, m *mission.Context) ([]events.Event, error) {
	title := p.cfg.Title
	if title == "" {
		title = "Mission " + m.ID
	}
	out, err := p.cfg.Creator.Create(ctx, Input{
		Title: title,
		Body:  body(m),
		Head:  p.cfg.Head,
		Base:  p.cfg.Base,
		Draft: p.cfg.Draft,
	})
	if err != nil {
		return nil, err
	}
	if out.Existing {
		return []events.Event{events.PRStatus{Number: out.Number, URL: out.URL, State: out.State}}, nil
	}
	m.ResetCoAuthors()
	return []events.Event{events.PRCreated{
		Number: out.Number,
		URL:    out.URL,
		Title:  title,
		Head:   p.cfg.Head,
		Base:   p.cfg.Base,
	}}, nil
}

func body(m *mission.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Opened by mission `%s`.", m.ID)
	if m.Creator.Name != "" {
		fmt.Fprintf(&b, "\n\nRequested by %s.", m.Creator.Name)
	}
	if trailers := m.CommitTrailers(); trailers != "" {
		b.WriteString("\n\n")
		b.WriteString(trailers)
	}
	return b.String()
}
