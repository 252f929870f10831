package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"siembox/core"
	"siembox/metrics"
)

// LoadStats reports the outcome of one corpus load.
type LoadStats struct {
	FilesScanned int
	Loaded       int
	Skipped      int
	Attempts     int
	Duration     time.Duration

	// Degraded is set when every attempt failed and the returned rule
	// list is partial or empty.
	Degraded bool
}

// Loader walks the rule corpus and parses each YAML file into a Rule.
// A malformed file never aborts the batch; it is logged and skipped.
type Loader struct {
	source     *Source
	logger     *zap.SugaredLogger
	retries    int
	retryDelay time.Duration
}

// NewLoader creates a corpus loader over source. retries is the total
// number of ensure-and-walk attempts before giving up.
func NewLoader(source *Source, retries int, retryDelay time.Duration, logger *zap.SugaredLogger) *Loader {
	if retries < 1 {
		retries = 1
	}
	return &Loader{
		source:     source,
		logger:     logger,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// Load runs the full load sequence: ensure the corpus is on disk, walk
// it, and parse every rule file. Each rule's enabled flag is
// initialized from state (default disabled). On repeated failure the
// partial result is returned with Degraded set rather than an error,
// so the engine can keep serving with whatever it has.
func (l *Loader) Load(ctx context.Context, state *StateStore) ([]*core.Rule, LoadStats) {
	var stats LoadStats
	var partial []*core.Rule
	start := time.Now()

	for attempt := 1; attempt <= l.retries; attempt++ {
		stats.Attempts = attempt

		if ctx.Err() != nil {
			break
		}

		if !l.source.Ensure(ctx) {
			l.logger.Warnw("Failed to ensure rules directory",
				"attempt", attempt, "max_attempts", l.retries)
			if attempt < l.retries {
				sleepCtx(ctx, l.retryDelay)
			}
			continue
		}

		rules, walkStats, err := l.loadFromDisk(state)
		if err != nil {
			partial = rules
			stats.FilesScanned = walkStats.FilesScanned
			stats.Skipped = walkStats.Skipped
			l.logger.Errorw("Error loading rules",
				"attempt", attempt, "max_attempts", l.retries, "error", err)
			if attempt < l.retries {
				sleepCtx(ctx, l.retryDelay)
			}
			continue
		}

		stats.FilesScanned = walkStats.FilesScanned
		stats.Loaded = walkStats.Loaded
		stats.Skipped = walkStats.Skipped
		stats.Duration = time.Since(start)
		metrics.RuleLoadDuration.Observe(stats.Duration.Seconds())

		l.logger.Infow("Successfully loaded rules",
			"rules", len(rules), "skipped", stats.Skipped, "duration", stats.Duration)
		return rules, stats
	}

	stats.Loaded = len(partial)
	stats.Duration = time.Since(start)
	stats.Degraded = true
	l.logger.Errorw("Failed to load rules after all retries",
		"attempts", stats.Attempts, "partial_rules", len(partial))
	return partial, stats
}

// loadFromDisk walks the rules subdirectory once and parses all rule
// files found. Ordering follows the directory walk and is stable for
// one process lifetime; first-match-wins depends on it.
func (l *Loader) loadFromDisk(state *StateStore) ([]*core.Rule, LoadStats, error) {
	rulesDir := l.source.RulesDir()

	var rules []*core.Rule
	byID := map[string]int{}
	var stats LoadStats

	err := filepath.WalkDir(rulesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable directory aborts the attempt; the rules
			// parsed before it become the partial result. A single
			// unreadable file is only skipped.
			if d == nil || d.IsDir() {
				return err
			}
			l.logger.Warnw("Error reading rule file", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !isRuleFile(path) {
			return nil
		}

		stats.FilesScanned++

		rule, ok := l.parseFile(path, rulesDir, state)
		if !ok {
			stats.Skipped++
			return nil
		}

		// Duplicate ids: the later file observed during the walk wins.
		if idx, dup := byID[rule.ID]; dup {
			rules[idx] = rule
			return nil
		}
		byID[rule.ID] = len(rules)
		rules = append(rules, rule)
		return nil
	})
	if err != nil {
		return rules, stats, fmt.Errorf("failed to walk rules directory: %w", err)
	}

	stats.Loaded = len(rules)
	return rules, stats, nil
}

// parseFile parses one rule file. It returns ok=false for anything
// that should be skipped: unreadable files, YAML errors, non-mapping
// documents, and documents without both a detection and a title.
func (l *Loader) parseFile(path, rulesDir string, state *StateStore) (*core.Rule, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warnw("Error reading rule file", "file", path, "error", err)
		return nil, false
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		l.logger.Warnw("Error parsing rule file", "file", path, "error", err)
		return nil, false
	}
	if doc == nil {
		return nil, false
	}

	detectionRaw, hasDetection := doc["detection"].(map[string]interface{})
	title, hasTitle := doc["title"].(string)
	if !hasDetection || !hasTitle {
		return nil, false
	}

	id := stringField(doc, "id")
	if id == "" {
		id = fileStem(path)
	}

	level := stringField(doc, "level")
	if !core.ValidSeverity(level) {
		level = core.DefaultSeverity
	}

	rule := &core.Rule{
		ID:          id,
		Title:       title,
		Description: stringField(doc, "description"),
		Level:       level,
		Detection:   core.ParseDetection(detectionRaw),
		Logsource:   parseLogsource(doc),
		Category:    deriveCategory(path, rulesDir),
		FilePath:    path,
	}
	rule.SetEnabled(state.Get(id))
	return rule, true
}

// deriveCategory turns the rule file's directory position under the
// rules root into a slash-joined category path.
func deriveCategory(path, rulesDir string) string {
	rel, err := filepath.Rel(rulesDir, path)
	if err != nil {
		return core.UncategorizedCategory
	}
	dir := filepath.Dir(rel)
	if dir == "." || dir == string(filepath.Separator) {
		return core.UncategorizedCategory
	}
	return filepath.ToSlash(dir)
}

// parseLogsource extracts the advisory logsource block, tolerating
// non-string values by stringifying them.
func parseLogsource(doc map[string]interface{}) core.Logsource {
	raw, ok := doc["logsource"].(map[string]interface{})
	if !ok {
		return core.Logsource{}
	}
	return core.Logsource{
		Product:  stringField(raw, "product"),
		Service:  stringField(raw, "service"),
		Category: stringField(raw, "category"),
	}
}

func stringField(doc map[string]interface{}, key string) string {
	v, ok := doc[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// fileStem is the file name without its extension, used as the rule id
// when the document has none.
func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
