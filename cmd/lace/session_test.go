package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/pkg/threads"
)

func TestResolveThreadID(t *testing.T) {
	ctx := context.TODO()
	manager := threads.NewManager(threads.NewMemoryStore())

	first := manager.NewThreadID()
	require.NoError(t, manager.CreateThread(ctx, first, nil))
	second := manager.NewThreadID()
	require.NoError(t, manager.CreateThread(ctx, second, nil))

	id, err := resolveThreadID(ctx, manager, "")
	require.NoError(t, err)
	assert.Equal(t, "", id, "no flag starts a fresh thread")

	id, err = resolveThreadID(ctx, manager, continueLatest)
	require.NoError(t, err)
	assert.Equal(t, second, id, "bare --continue resumes the most recent thread")

	id, err = resolveThreadID(ctx, manager, first)
	require.NoError(t, err)
	assert.Equal(t, first, id, "--continue=<id> resumes that thread")

	_, err = resolveThreadID(ctx, manager, "lace_20260101_zzzzzz")
	assert.Error(t, err, "unknown thread ids are rejected")
}

func TestResolveThreadIDWithoutHistory(t *testing.T) {
	manager := threads.NewManager(threads.NewMemoryStore())

	_, err := resolveThreadID(context.TODO(), manager, continueLatest)
	assert.Error(t, err)
}
