// Package topics holds the channel names and event names shared by every
// publisher and subscriber on the pub/sub namespace.
package topics

import (
	"strings"

	"PPresence/tools/errs"
)

const (
	PresenceGlobal = "presence:global"
	StatusUpdates  = "status:updates"
)

// Events on presence:global.
const (
	EventEnter  = "enter"
	EventUpdate = "update"
	EventLeave  = "leave"
	EventSync   = "sync"
)

const EventStatusUpdate = "status-update"

// Events on project:<id> and team:<id>.
const (
	EventCardCreated = "card:created"
	EventCardUpdated = "card:updated"
	EventCardDeleted = "card:deleted"

	EventActivityCreated = "activity:created"

	EventMemberAdded    = "member:added"
	EventMemberAccepted = "member:accepted"
	EventMemberDeclined = "member:declined"
	EventMemberRemoved  = "member:removed"

	EventProjectCreated             = "project:created"
	EventProjectUpdated             = "project:updated"
	EventProjectDeleted             = "project:deleted"
	EventProjectArchiveStatusChange = "project:archive_status_changed"

	EventTeamUpdated = "team:updated"
	EventTeamDeleted = "team:deleted"
)

const (
	EventCommentCreated = "comment:created"
	EventNotification   = "notification"
)

var MemberEvents = []string{EventMemberAdded, EventMemberAccepted, EventMemberDeclined, EventMemberRemoved}

func Project(projectID string) string { return "project:" + projectID }

func Team(teamID string) string { return "team:" + teamID }

func CardComments(cardID string) string { return "card:" + cardID + ":comments" }

func User(userID string) string { return "user:" + userID }

// ProjectPresence is reserved for project-scoped presence.
func ProjectPresence(projectID string) string { return "presence:project:" + projectID }

// ValidID rejects ids that would split or wildcard a NATS subject.
func ValidID(id string) error {
	if id == "" {
		return errs.ErrArgs.WrapMsg("empty id")
	}
	if strings.ContainsAny(id, ".*> \t\r\n") {
		return errs.ErrArgs.WrapMsg("id contains reserved characters", "id", id)
	}
	return nil
}

// Validate checks a full topic name.
func Validate(topic string) error {
	if topic == "" {
		return errs.ErrArgs.WrapMsg("empty topic")
	}
	if strings.ContainsAny(topic, ".*> \t\r\n") {
		return errs.ErrArgs.WrapMsg("topic contains reserved characters", "topic", topic)
	}
	return nil
}

// Subject maps a topic onto its NATS subject.
func Subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}

// Known reports whether topic follows one of the naming conventions.
func Known(topic string) bool {
	switch topic {
	case PresenceGlobal, StatusUpdates:
		return true
	}
	for _, p := range []string{"project:", "team:", "user:", "presence:project:"} {
		if rest, ok := strings.CutPrefix(topic, p); ok {
			return rest != "" && !strings.Contains(rest, ":")
		}
	}
	if rest, ok := strings.CutPrefix(topic, "card:"); ok {
		id, found := strings.CutSuffix(rest, ":comments")
		return found && id != "" && !strings.Contains(id, ":")
	}
	return false
}
