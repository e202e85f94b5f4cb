package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDescriptor = `
[main]
name = rabbit
enabled = true
requires = core
extends =

[messaging]
uuid = 123e4567
url = amqp://localhost
threads = 4

[queue]
managed = true
`

func TestGraphAbsentIsEmpty(t *testing.T) {
	g, err := LoadBytes([]byte(sampleDescriptor), nil)
	require.NoError(t, err)

	main := g.Section("main")
	assert.Equal(t, "rabbit", main.Get("name"))
	assert.Equal(t, "", main.Get("not_a_key"))
	assert.Equal(t, "", g.Section("not_a_section").Get("anything"))
}

func TestGraphTypedCoercion(t *testing.T) {
	g, err := LoadBytes([]byte(sampleDescriptor), nil)
	require.NoError(t, err)

	messaging := g.Section("messaging")
	assert.Equal(t, 4, messaging.Int("threads", 1))
	assert.Equal(t, 1, messaging.Int("missing", 1))
	assert.True(t, g.Section("queue").Bool("managed", false))
	assert.ElementsMatch(t, []string{"core"}, g.Section("main").List("requires"))
}

func TestDefaultsMergeUnderFileValues(t *testing.T) {
	defaults := map[string]map[string]string{
		"messaging": {"threads": "1", "host_validation": "true"},
	}
	g, err := LoadBytes([]byte(sampleDescriptor), defaults)
	require.NoError(t, err)

	messaging := g.Section("messaging")
	assert.Equal(t, 4, messaging.Int("threads", 1)) // file value wins
	assert.True(t, messaging.Bool("host_validation", false)) // default fills gap
}

func TestSchemaValidation(t *testing.T) {
	g, err := LoadBytes([]byte(sampleDescriptor), nil)
	require.NoError(t, err)
	assert.NoError(t, PluginDescriptorSchema.Validate(g))

	bad, err := LoadBytes([]byte("[main]\nname=x\n"), nil)
	require.NoError(t, err)
	err = PluginDescriptorSchema.Validate(bad)
	assert.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.NotEmpty(t, verr.Problems)
}

func TestUnknownSectionsAndKeysDoNotFail(t *testing.T) {
	g, err := LoadBytes([]byte(sampleDescriptor+"\n[unknown]\nfoo=bar\n"), nil)
	require.NoError(t, err)
	assert.NoError(t, PluginDescriptorSchema.Validate(g))
}
