package main

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"driver_intake/internal/config"
	"driver_intake/internal/extract"
	"driver_intake/internal/milestone"
	"driver_intake/internal/registration"
)

// RuleCache holds the active classifier and keeps it, and the milestone
// table, in sync with the config file.
type RuleCache struct {
	sync.RWMutex
	classifier *extract.Classifier
	tracker    *milestone.Tracker
	configPath string
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
}

// NewRuleCache builds the classifier from cfg. Call Watch to follow changes
// of the config file.
func NewRuleCache(cfg *config.Config, configPath string, tracker *milestone.Tracker, logger *zap.Logger) *RuleCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleCache{
		classifier: extract.NewClassifier(cfg.CategoryRules()),
		tracker:    tracker,
		configPath: configPath,
		logger:     logger,
	}
}

// Classify delegates to the current classifier.
func (rc *RuleCache) Classify(text string) registration.Category {
	rc.RLock()
	c := rc.classifier
	rc.RUnlock()
	return c.Classify(text)
}

// Classifier returns the current classifier.
func (rc *RuleCache) Classifier() *extract.Classifier {
	rc.RLock()
	defer rc.RUnlock()
	return rc.classifier
}

// Reload reads the config file again and swaps the category rules and the
// milestone table. On error the previous rules stay active.
func (rc *RuleCache) Reload() (*config.Config, error) {
	cfg, err := config.Load(rc.configPath)
	if err != nil {
		return nil, err
	}

	if rc.tracker != nil {
		rc.tracker.SetTable(cfg.MilestoneTable())
	}

	classifier := extract.NewClassifier(cfg.CategoryRules())
	rc.Lock()
	rc.classifier = classifier
	rc.Unlock()

	rc.logger.Info("Rules reloaded",
		zap.String("config", rc.configPath),
		zap.Int("categories", len(classifier.Rules())),
		zap.Int("milestones", len(cfg.MilestoneTable())),
	)
	return cfg, nil
}

// Watch starts following the config file. Editors often replace the file
// instead of writing it, so the parent directory is watched.
func (rc *RuleCache) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(rc.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	rc.Lock()
	rc.watcher = watcher
	rc.Unlock()

	rc.logger.Info("File watcher initialized", zap.String("dir", dir))
	go rc.watchFiles(watcher)
	return nil
}

// Close stops the watcher.
func (rc *RuleCache) Close() {
	rc.Lock()
	defer rc.Unlock()
	if rc.watcher != nil {
		rc.watcher.Close()
		rc.watcher = nil
	}
}

func (rc *RuleCache) watchFiles(watcher *fsnotify.Watcher) {
	target := filepath.Clean(rc.configPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Small delay to ensure file write is complete
			time.Sleep(100 * time.Millisecond)

			rc.logger.Info("Config changed, reloading rules", zap.String("file", event.Name))
			if _, err := rc.Reload(); err != nil {
				rc.logger.Warn("Config reload failed, keeping previous rules", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rc.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}
