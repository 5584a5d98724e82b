package config

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfish/internal/domain"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, OrderSequential, cfg.Selector.Order)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Len(t, cfg.Tasks, 6)
}

func TestMissingKeysKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("selector:\n  order: shuffled\n"))
	require.NoError(t, err)
	assert.Equal(t, OrderShuffled, cfg.Selector.Order)
	assert.Equal(t, "docfish", cfg.Selector.Seed)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"order":     "selector:\n  order: random\n",
		"seed":      "selector:\n  order: shuffled\n  seed: \"\"\n",
		"base path": "server:\n  base_path: v1\n",
		"task type": "tasks:\n  audio_annotation:\n    title: Audio\n",
		"level":     "logging:\n  level: loud\n",
		"format":    "logging:\n  format: xml\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestUnknownTaskTypeIsBadParameter(t *testing.T) {
	_, err := FromYAML([]byte("tasks:\n  audio_annotation:\n    title: Audio\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBadParameter)
	assert.Contains(t, err.Error(), "config.tasks")
}

func TestTaskDefaultsFallBackToTitle(t *testing.T) {
	cfg := &Config{}
	d := cfg.TaskDefaults(domain.NewTaskType(domain.TargetText, domain.TaskDescribe))
	assert.Equal(t, "Text Description", d.Title)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "docfish config init")

	cfg, err := LoadOrDefault(dir)
	require.NoError(t, err)
	assert.Equal(t, OrderSequential, cfg.Selector.Order)

	require.NoError(t, os.WriteFile(Path(dir), []byte("logging:\n  level: debug\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
