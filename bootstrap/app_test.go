package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"siembox/detect"
	"siembox/rules"
)

const corpusRule = `title: SSH Failed Password
id: ssh-failed
level: high
detection:
  keywords:
    - failed password
`

func writeCorpusRule(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, "rules", filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newRefreshTestApp(t *testing.T, root string) *App {
	t.Helper()
	sugar := zap.NewNop().Sugar()
	source := rules.NewSource(rules.ModeExternal, root, "", "", sugar)
	state := rules.NewStateStore("http://127.0.0.1:1", time.Second, sugar)
	stats := detect.NewStats()

	return &App{
		Sugar:      sugar,
		Source:     source,
		Loader:     rules.NewLoader(source, 1, time.Millisecond, sugar),
		State:      state,
		Stats:      stats,
		Engine:     detect.NewEngine(state, stats, nil, 10, sugar),
		startupCtx: context.Background(),
	}
}

func TestRefreshApplyRecoversDegradedEngine(t *testing.T) {
	root := filepath.Join(t.TempDir(), "corpus")
	app := newRefreshTestApp(t, root)

	// The initial load exhausts its retries while the corpus is absent.
	loaded, lstats := app.Loader.Load(context.Background(), app.State)
	require.True(t, lstats.Degraded)
	app.Engine.SetRules(loaded)
	app.Stats.MarkDegraded()

	// A refresh while the corpus is still missing changes nothing.
	app.State.SetAll(map[string]bool{"ssh-failed": true})
	app.refreshApply(map[string]bool{"ssh-failed": true})
	assert.Equal(t, detect.StatusDegraded, app.Stats.Status())
	assert.False(t, app.Stats.RulesLoaded())
	assert.Empty(t, app.Engine.Rules())

	// Once the corpus appears, the next refresh reloads and recovers.
	writeCorpusRule(t, root, "linux/auth/ssh_failed.yml", corpusRule)
	app.refreshApply(map[string]bool{"ssh-failed": true})

	assert.Equal(t, detect.StatusOperational, app.Stats.Status())
	assert.True(t, app.Stats.RulesLoaded())
	require.Len(t, app.Engine.Rules(), 1)
	assert.True(t, app.Engine.Rules()[0].Enabled())
}

func TestRefreshApplyRestoresOperationalAfterDegradedRefresh(t *testing.T) {
	root := t.TempDir()
	writeCorpusRule(t, root, "linux/auth/ssh_failed.yml", corpusRule)
	app := newRefreshTestApp(t, root)

	loaded, lstats := app.Loader.Load(context.Background(), app.State)
	require.False(t, lstats.Degraded)
	app.Engine.SetRules(loaded)
	app.Stats.MarkLoaded()

	// A later degraded stretch heals on the next successful refresh.
	app.Stats.MarkDegraded()
	app.State.SetAll(map[string]bool{"ssh-failed": true})
	app.refreshApply(map[string]bool{"ssh-failed": true})

	assert.Equal(t, detect.StatusOperational, app.Stats.Status())
	assert.True(t, app.Engine.Rules()[0].Enabled())
}
