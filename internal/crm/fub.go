package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultActivityLimit = 20

type ContactValue struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Person is the subset of a Follow Up Boss person record the assistant uses.
type Person struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Source    string         `json:"source"`
	Stage     string         `json:"stage"`
	Emails    []ContactValue `json:"emails"`
	Phones    []ContactValue `json:"phones"`
}

func (p *Person) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		return name
	}
	return ""
}

func (p *Person) PrimaryEmail() string {
	return primaryValue(p.Emails)
}

func (p *Person) PrimaryPhone() string {
	return primaryValue(p.Phones)
}

func primaryValue(values []ContactValue) string {
	for _, v := range values {
		if strings.TrimSpace(v.Value) != "" {
			return strings.TrimSpace(v.Value)
		}
	}
	return ""
}

type Activity struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Created string `json:"created"`
	Subject string `json:"subject,omitempty"`
}

type activitiesResponse struct {
	Activities []Activity `json:"activities"`
}

// LeadData is a person together with its most recent activities.
type LeadData struct {
	Person     Person
	Activities []Activity
}

func personPath(personID string, suffix ...string) (string, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return "", fmt.Errorf("person id is required")
	}
	return "/people/" + url.PathEscape(personID) + strings.Join(suffix, ""), nil
}

func (c *Client) GetPerson(ctx context.Context, tokens Tokens, personID string) (*Person, Tokens, error) {
	path, err := personPath(personID)
	if err != nil {
		return nil, tokens, fmt.Errorf("get person: %w", err)
	}

	body, tokens, err := c.Call(ctx, tokens, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, tokens, fmt.Errorf("get person: %w", err)
	}

	var person Person
	if err := json.Unmarshal(body, &person); err != nil {
		return nil, tokens, fmt.Errorf("get person: decode response: %w", err)
	}
	return &person, tokens, nil
}

// GetActivities lists the newest activities for a person, newest first.
func (c *Client) GetActivities(ctx context.Context, tokens Tokens, personID string, limit int) ([]Activity, Tokens, error) {
	path, err := personPath(personID, "/activities")
	if err != nil {
		return nil, tokens, fmt.Errorf("get activities: %w", err)
	}
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("sort", "-created")

	body, tokens, err := c.Call(ctx, tokens, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, tokens, fmt.Errorf("get activities: %w", err)
	}

	var payload activitiesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, tokens, fmt.Errorf("get activities: decode response: %w", err)
	}
	return payload.Activities, tokens, nil
}

// GetLeadData fetches the person and then its activities, passing any
// refreshed pair from the first call into the second.
func (c *Client) GetLeadData(ctx context.Context, tokens Tokens, personID string) (*LeadData, Tokens, error) {
	person, tokens, err := c.GetPerson(ctx, tokens, personID)
	if err != nil {
		return nil, tokens, err
	}

	activities, tokens, err := c.GetActivities(ctx, tokens, personID, defaultActivityLimit)
	if err != nil {
		return nil, tokens, err
	}

	return &LeadData{Person: *person, Activities: activities}, tokens, nil
}

type createNoteRequest struct {
	PersonID string `json:"personId"`
	Content  string `json:"content"`
}

// CreateNote adds a note to a person and returns the new note's id, or
// "unknown" when the CRM does not echo one.
func (c *Client) CreateNote(ctx context.Context, tokens Tokens, personID, content string) (string, Tokens, error) {
	path, err := personPath(personID, "/notes")
	if err != nil {
		return "", tokens, fmt.Errorf("create note: %w", err)
	}

	body, tokens, err := c.Call(ctx, tokens, http.MethodPost, path, nil, createNoteRequest{
		PersonID: strings.TrimSpace(personID),
		Content:  content,
	})
	if err != nil {
		return "", tokens, fmt.Errorf("create note: %w", err)
	}

	return noteID(body), tokens, nil
}

func noteID(body []byte) string {
	var payload struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.ID) == 0 {
		return "unknown"
	}

	raw := bytes.TrimSpace(payload.ID)
	if bytes.Equal(raw, []byte("null")) {
		return "unknown"
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "unknown"
		}
		return s
	}
	return string(raw)
}
