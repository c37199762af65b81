package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerDefault(t *testing.T) {
	entry := G(context.TODO())
	require.NotNil(t, entry)
}

func TestWithLoggerRoundTrip(t *testing.T) {
	entry := logrus.NewEntry(logrus.New()).WithField("thread_id", "lace_20260824_aaaaaa")
	ctx := WithLogger(context.TODO(), entry)

	got := G(ctx)
	assert.Equal(t, "lace_20260824_aaaaaa", got.Data["thread_id"])
}

func TestSetLogLevel(t *testing.T) {
	assert.NoError(t, SetLogLevel("debug"))
	assert.NoError(t, SetLogLevel("warn"))
	assert.Error(t, SetLogLevel("nope"))
}
