package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := NotFound("lesson", 5)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "lesson 5 not found", err.Error())

	wrapped := fmt.Errorf("create booking: %w", NewError(KindLessonFull, "%s: lesson is full", UnavailableMessage))
	assert.True(t, errors.Is(wrapped, ErrLessonFull))
	assert.Contains(t, wrapped.Error(), "no longer available for booking")
	assert.Equal(t, KindLessonFull, KindOf(wrapped))
}

func TestWrapStorage(t *testing.T) {
	assert.NoError(t, WrapStorage(nil, "noop"))

	raw := errors.New("disk I/O error")
	err := WrapStorage(raw, "insert booking")
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, raw))
	assert.Equal(t, "insert booking: disk I/O error", err.Error())

	typed := NotFound("booking", 1)
	assert.Same(t, typed, WrapStorage(typed, "get booking"))
	assert.Equal(t, KindStorage, KindOf(raw))
}

func TestActor(t *testing.T) {
	assert.True(t, Actor{UserID: 1, Role: "admin"}.IsAdmin())
	assert.False(t, Actor{UserID: 1, Role: "user"}.IsAdmin())
}
