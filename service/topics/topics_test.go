package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	assert.Equal(t, "project:p1", Project("p1"))
	assert.Equal(t, "team:t1", Team("t1"))
	assert.Equal(t, "card:c1:comments", CardComments("c1"))
	assert.Equal(t, "user:u1", User("u1"))
	assert.Equal(t, "presence:project:p1", ProjectPresence("p1"))
	assert.Equal(t, "ws.project:p1", Subject("ws", "project:p1"))
	assert.Equal(t, "project:p1", Subject("", "project:p1"))
}

func TestKnown(t *testing.T) {
	for _, ok := range []string{PresenceGlobal, StatusUpdates, "project:p1", "team:t", "user:u", "card:c:comments", "presence:project:p"} {
		assert.True(t, Known(ok), ok)
	}
	for _, bad := range []string{"", "project:", "card:c", "card::comments", "random", "project:a:b"} {
		assert.False(t, Known(bad), bad)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ValidID("abc-123"))
	assert.Error(t, ValidID(""))
	assert.Error(t, ValidID("a.b"))
	assert.Error(t, ValidID("a*"))
	assert.NoError(t, Validate("card:c1:comments"))
	assert.Error(t, Validate("card:c1 comments"))
}
