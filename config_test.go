package httpconnpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, VerifyConfig(DefaultConfig()))
}

func TestVerifyConfigRejectsBadValues(t *testing.T) {
	c := DefaultConfig()
	c.DefaultDuplicateLimit = 0
	require.Error(t, VerifyConfig(c))

	c = DefaultConfig()
	c.DefaultPipelineLimit = -1
	require.Error(t, VerifyConfig(c))

	c = DefaultConfig()
	c.DialTimeout = 0
	require.Error(t, VerifyConfig(c))
}

func TestLoadConfigWithMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/to/config.yaml")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().DefaultDuplicateLimit, cfg.DefaultDuplicateLimit)
}
