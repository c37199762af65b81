package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOrderAndLookup(t *testing.T) {
	registry := NewRegistry(&FileReadTool{}, &FileListTool{}, &ThinkingTool{})

	assert.Equal(t, []string{"file_read", "file_list", "thinking"}, registry.Names())

	tool, ok := registry.Get("file_read")
	require.True(t, ok)
	assert.Equal(t, "file_read", tool.Name())

	_, ok = registry.Get("nope")
	assert.False(t, ok)
}

func TestRestrictedExcludesTools(t *testing.T) {
	registry := NewRegistry(&FileReadTool{}, &FileListTool{}, &ThinkingTool{})

	restricted := registry.Restricted("thinking")
	assert.Equal(t, []string{"file_read", "file_list"}, restricted.Names())

	// The original registry is untouched.
	assert.Len(t, registry.Names(), 3)
}

func TestValidateArguments(t *testing.T) {
	registry := NewRegistry(&FileReadTool{})

	assert.NoError(t, registry.ValidateArguments("file_read", []byte(`{"path":"main.go"}`)))
	assert.NoError(t, registry.ValidateArguments("file_read", []byte(`{"path":"main.go","offset":10,"limit":5}`)))

	// Missing required field.
	err := registry.ValidateArguments("file_read", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	// Wrong type.
	err = registry.ValidateArguments("file_read", []byte(`{"path":"a","offset":"ten"}`))
	assert.Error(t, err)

	// Unknown property rejected.
	err = registry.ValidateArguments("file_read", []byte(`{"path":"a","bogus":true}`))
	assert.Error(t, err)

	// Not JSON at all.
	err = registry.ValidateArguments("file_read", []byte(`not json`))
	assert.Error(t, err)
}

func TestValidateArgumentsUnknownTool(t *testing.T) {
	registry := NewRegistry()
	err := registry.ValidateArguments("ghost", []byte(`{}`))
	assert.Error(t, err)
}

func TestGenerateSchemaMarksRequired(t *testing.T) {
	schema := (&FileReadTool{}).GenerateSchema()
	require.NotNil(t, schema)
	assert.Contains(t, schema.Required, "path")
	assert.NotContains(t, schema.Required, "offset")
}
