// Package events holds the payload shapes published on entity topics after
// the server commits a change.
package events

import "time"

type Card struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId,omitempty"`
	TeamID      string         `json:"teamId,omitempty"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content,omitempty"`
	Status      string         `json:"status,omitempty"`
	Position    int            `json:"position,omitempty"`
	AssigneeIDs []string       `json:"assigneeIds,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// CardRef is the payload of card:deleted.
type CardRef struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId,omitempty"`
}

type Activity struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId,omitempty"`
	CardID    string    `json:"cardId,omitempty"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	CardID    string    `json:"cardId"`
	AuthorID  string    `json:"authorId"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type Member struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
}

type Project struct {
	ID       string `json:"id"`
	TeamID   string `json:"teamId,omitempty"`
	Name     string `json:"name,omitempty"`
	Archived bool   `json:"archived,omitempty"`
}

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body,omitempty"`
	Link      string         `json:"link,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
