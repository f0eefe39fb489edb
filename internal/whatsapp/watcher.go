// Package whatsapp watches the open chat of a WhatsApp Web session and emits
// each new incoming message together with the contact shown in the chat
// header.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"driver_intake/internal/intake"
)

// Config holds the browser and polling settings.
type Config struct {
	URL string `yaml:"url"`
	// DebuggerURL attaches to an already running Chrome instead of launching one.
	DebuggerURL string `yaml:"debugger_url"`
	// UserDataDir keeps the WhatsApp login between runs.
	UserDataDir     string        `yaml:"user_data_dir"`
	Headless        bool          `yaml:"headless"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	LoginWait       time.Duration `yaml:"login_wait"`
	MessageSelector string        `yaml:"message_selector"`
	ContactSelector string        `yaml:"contact_selector"`
	// SeenLimit bounds the dedupe memory.
	SeenLimit int `yaml:"seen_limit"`
}

// DefaultConfig returns the settings for a visible Chrome on web.whatsapp.com.
func DefaultConfig() Config {
	return Config{
		URL:             "https://web.whatsapp.com",
		PollInterval:    2 * time.Second,
		LoginWait:       15 * time.Second,
		MessageSelector: "div.message-in",
		ContactSelector: "header span[title]",
		SeenLimit:       1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.LoginWait < 0 {
		c.LoginWait = 0
	}
	if c.MessageSelector == "" {
		c.MessageSelector = def.MessageSelector
	}
	if c.ContactSelector == "" {
		c.ContactSelector = def.ContactSelector
	}
	if c.SeenLimit <= 0 {
		c.SeenLimit = def.SeenLimit
	}
	return c
}

// Handler receives every new message.
type Handler func(ctx context.Context, msg intake.Message) error

// chatView is the part of the page the watcher reads.
type chatView interface {
	Contact() (string, error)
	LastMessage() (string, error)
}

// Watcher polls one WhatsApp Web page.
type Watcher struct {
	cfg    Config
	logger *zap.Logger
	seen   *seenSet

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewWatcher creates a watcher. Nothing is launched until Run.
func NewWatcher(cfg Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Watcher{cfg: cfg, logger: logger, seen: newSeenSet(cfg.SeenLimit)}
}

// Run opens WhatsApp Web, waits for the manual login and polls until ctx is
// cancelled. Handler errors are logged and the message is not retried.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	page, err := w.open(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	w.logger.Info("Waiting for WhatsApp Web login", zap.Duration("wait", w.cfg.LoginWait))
	if err := sleep(ctx, w.cfg.LoginWait); err != nil {
		return nil
	}

	view := rodView{page: page, cfg: w.cfg}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("WhatsApp watcher running", zap.Duration("poll_interval", w.cfg.PollInterval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("WhatsApp watcher stopped")
			return nil
		case <-ticker.C:
			w.poll(ctx, view, handle)
		}
	}
}

// poll emits the last message of the open chat unless it was seen before.
// It reports whether a message was emitted.
func (w *Watcher) poll(ctx context.Context, view chatView, handle Handler) bool {
	text, err := view.LastMessage()
	if err != nil {
		w.logger.Debug("No message to read", zap.Error(err))
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	contact, err := view.Contact()
	if err != nil {
		w.logger.Debug("No contact header", zap.Error(err))
		return false
	}
	contact = strings.TrimSpace(contact)

	if !w.seen.Add(messageKey(contact, text)) {
		return false
	}

	if err := handle(ctx, intake.Message{Text: text, Sender: contact}); err != nil {
		w.logger.Warn("Message handling failed", zap.String("contact", contact), zap.Error(err))
	} else {
		w.logger.Info("Message processed", zap.String("contact", contact))
	}
	return true
}

func (w *Watcher) open(ctx context.Context) (*rod.Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	controlURL := w.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(w.cfg.Headless)
		if w.cfg.UserDataDir != "" {
			l = l.UserDataDir(w.cfg.UserDataDir)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("whatsapp: launch chrome: %w", err)
		}
		w.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("whatsapp: connect to chrome: %w", err)
	}
	w.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: w.cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open %s: %w", w.cfg.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("whatsapp: wait load: %w", err)
	}
	w.page = page
	return page, nil
}

// Close closes the page and the browser and cleans up a launched Chrome.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.page != nil {
		errs = append(errs, w.page.Close())
		w.page = nil
	}
	if w.browser != nil && w.launcher != nil {
		errs = append(errs, w.browser.Close())
	}
	w.browser = nil
	if w.launcher != nil {
		w.launcher.Cleanup()
		w.launcher = nil
	}
	return errors.Join(errs...)
}

type rodView struct {
	page *rod.Page
	cfg  Config
}

func (v rodView) Contact() (string, error) {
	els, err := v.page.Elements(v.cfg.ContactSelector)
	if err != nil {
		return "", err
	}
	if els.Empty() {
		return "", errors.New("contact header not found")
	}
	title, err := els.First().Attribute("title")
	if err != nil {
		return "", err
	}
	if title == nil {
		return "", errors.New("contact header has no title")
	}
	return *title, nil
}

func (v rodView) LastMessage() (string, error) {
	els, err := v.page.Elements(v.cfg.MessageSelector)
	if err != nil {
		return "", err
	}
	if els.Empty() {
		return "", errors.New("no messages in chat")
	}
	return els.Last().Text()
}

func messageKey(contact, text string) string {
	return contact + "\x00" + text
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// seenSet remembers the last limit keys in insertion order.
type seenSet struct {
	limit int
	keys  map[string]struct{}
	order []string
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, keys: make(map[string]struct{}, limit)}
}

// Add records key and reports whether it was new.
func (s *seenSet) Add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.limit {
		delete(s.keys, s.order[0])
		s.order = s.order[1:]
	}
	return true
}
