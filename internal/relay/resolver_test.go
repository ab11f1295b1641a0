package relay

import (
	"context"
	"errors"
	"testing"

	"maxrelay/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestResolve_DisplayName(t *testing.T) {
	dir := &fakeDirectory{users: map[int64]*domain.User{42: {ID: 42, Names: []string{"Alice", "Alice Smith"}}}}
	r := NewResolver(dir, discardLogger())
	assert.Equal(t, "Alice [chat_id=7]", r.Resolve(context.Background(), 42, 7))
}

func TestResolve_NoUser(t *testing.T) {
	r := NewResolver(&fakeDirectory{}, discardLogger())
	assert.Equal(t, "Unknown [chat_id=7]", r.Resolve(context.Background(), 42, 7))
}

func TestResolve_NoNames(t *testing.T) {
	dir := &fakeDirectory{users: map[int64]*domain.User{42: {ID: 42}}}
	r := NewResolver(dir, discardLogger())
	assert.Equal(t, "Unknown [chat_id=-100]", r.Resolve(context.Background(), 42, -100))
}

func TestResolve_LookupErrorDegrades(t *testing.T) {
	dir := &fakeDirectory{userErr: errors.New("connection reset")}
	r := NewResolver(dir, discardLogger())
	assert.Equal(t, "Unknown [chat_id=7]", r.Resolve(context.Background(), 42, 7))
}

func TestResolve_SkipsEmptyNameEntries(t *testing.T) {
	dir := &fakeDirectory{users: map[int64]*domain.User{1: {ID: 1, Names: []string{"", "Bob"}}}}
	r := NewResolver(dir, discardLogger())
	assert.Equal(t, "Bob [chat_id=3]", r.Resolve(context.Background(), 1, 3))
}
