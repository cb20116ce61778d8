package gateway

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoints builds Gateway URLs for one mission.
type Endpoints struct {
	base      string
	missionID string
}

// NewEndpoints validates baseURL and returns the endpoint layout for missionID.
func NewEndpoints(baseURL, missionID string) (Endpoints, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Endpoints{}, fmt.Errorf("invalid gateway url %q", baseURL)
	}
	if missionID == "" {
		return Endpoints{}, fmt.Errorf("mission id is required")
	}
	return Endpoints{base: strings.TrimRight(baseURL, "/"), missionID: missionID}, nil
}

// MissionID returns the mission the endpoints address.
func (e Endpoints) MissionID() string {
	return e.missionID
}

// Events is POST /missions/{id}/events.
func (e Endpoints) Events() string {
	return e.base + "/missions/" + url.PathEscape(e.missionID) + "/events"
}

// Queue is GET /missions/{id}/queue.
func (e Endpoints) Queue() string {
	return e.base + "/missions/" + url.PathEscape(e.missionID) + "/queue"
}

// QueueMessage is POST /missions/{id}/queue/{messageId}.
func (e Endpoints) QueueMessage(messageID string) string {
	return e.Queue() + "/" + url.PathEscape(messageID)
}
