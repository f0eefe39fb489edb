// Package intake turns chat messages into driver registrations: it extracts
// fields, merges them into the sender's conversation, and persists the record
// once it is complete.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"driver_intake/internal/conversation"
	"driver_intake/internal/extract"
	"driver_intake/internal/milestone"
	"driver_intake/internal/registration"
)

// ErrNoConversation is returned when a phone has no pending conversation.
var ErrNoConversation = errors.New("intake: no pending conversation")

// Message is one raw chat message. Sender is optional; when the text carries
// no phone number the sender's digits are used as the conversation key.
type Message struct {
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
}

// FieldExtractor pulls registration fields out of message text.
type FieldExtractor interface {
	Extract(text string) registration.Record
}

// Sink persists routed records.
type Sink interface {
	WriteRecord(ctx context.Context, sheet string, rec registration.Record) error
}

// Result reports what happened to a message or submission.
type Result struct {
	Record    registration.Record  `json:"record"`
	Complete  bool                 `json:"complete"`
	Persisted bool                 `json:"persisted"`
	Sheet     string               `json:"sheet,omitempty"`
	Missing   []registration.Field `json:"missing,omitempty"`
	Count     int                  `json:"count,omitempty"`
	Milestone string               `json:"milestone,omitempty"`
	// CounterError is set when the record was saved but the counter could not be updated.
	CounterError string `json:"counter_error,omitempty"`
}

// Processor owns the conversation store and runs the intake flow. The merge,
// completeness check, persist and remove steps run under one lock, so two
// messages from the same phone can not both persist the record.
type Processor struct {
	mu        sync.Mutex
	extractor FieldExtractor
	store     conversation.Store
	router    *Router
	sink      Sink
	tracker   *milestone.Tracker
	logger    *zap.Logger
}

// NewProcessor wires the intake flow.
func NewProcessor(extractor FieldExtractor, store conversation.Store, router *Router, sink Sink, tracker *milestone.Tracker, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		extractor: extractor,
		store:     store,
		router:    router,
		sink:      sink,
		tracker:   tracker,
		logger:    logger,
	}
}

// Process extracts fields from msg and merges them into the sender's
// conversation. A complete record is persisted, counted and removed from the
// store. A message without any phone number fails with
// registration.ErrValidation and changes nothing.
func (p *Processor) Process(ctx context.Context, msg Message) (Result, error) {
	fields := p.extractor.Extract(msg.Text)
	fields.Phone = registration.NormalizePhone(fields.Phone)
	phone := fields.Phone
	if phone == "" {
		phone = extract.SenderPhone(msg.Sender)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	merged, err := p.store.Merge(ctx, phone, fields)
	if err != nil {
		if errors.Is(err, registration.ErrValidation) {
			p.logger.Warn("Message without phone number", zap.String("sender", msg.Sender))
		}
		return Result{Record: fields, Missing: []registration.Field{registration.FieldPhone}}, err
	}

	res := Result{Record: merged, Complete: merged.IsComplete(), Missing: merged.Missing()}
	if !res.Complete {
		p.logger.Info("Registration pending",
			zap.String("phone", phone),
			zap.String("category", string(merged.Category)),
			zap.Any("missing", res.Missing),
		)
		return res, nil
	}

	return p.persistComplete(ctx, res)
}

// Submit stores a registration typed in field by field. Complete records go
// to their category sheet and are counted; incomplete ones go to the
// incomplete bucket. A pending conversation for the same phone is dropped
// once the submission is complete.
func (p *Processor) Submit(ctx context.Context, rec registration.Record) (Result, error) {
	rec.Phone = registration.NormalizePhone(rec.Phone)
	rec.NationalID = registration.Digits(rec.NationalID)
	rec.LicensePlate = strings.ToUpper(strings.TrimSpace(rec.LicensePlate))
	rec.Name = strings.TrimSpace(rec.Name)
	rec.City = strings.TrimSpace(rec.City)
	rec.CourseCompleted = registration.ParseCourse(rec.CourseCompleted)

	if rec.Phone == "" {
		return Result{Record: rec}, fmt.Errorf("intake: phone number is required: %w", registration.ErrValidation)
	}
	if rec.Category == registration.CategoryUnknown {
		return Result{Record: rec}, fmt.Errorf("intake: category must be TAC or Aggregate: %w", registration.ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{Record: rec, Complete: rec.IsComplete(), Missing: rec.Missing()}
	if res.Complete {
		return p.persistComplete(ctx, res)
	}
	return p.persistPartial(ctx, res)
}

// Park writes the current snapshot of a pending conversation to the
// incomplete bucket and keeps the conversation open. A conversation that is
// already complete (a previous write failed) is persisted as complete.
func (p *Processor) Park(ctx context.Context, phone string) (Result, error) {
	phone = registration.NormalizePhone(phone)

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok, err := p.store.Get(ctx, phone)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoConversation, phone)
	}

	res := Result{Record: rec, Complete: rec.IsComplete(), Missing: rec.Missing()}
	if res.Complete {
		return p.persistComplete(ctx, res)
	}
	return p.persistPartial(ctx, res)
}

// Pending lists the open conversations.
func (p *Processor) Pending(ctx context.Context) ([]registration.Record, error) {
	return p.store.List(ctx)
}

// Discard drops the conversation for phone without persisting it.
func (p *Processor) Discard(ctx context.Context, phone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Remove(ctx, registration.NormalizePhone(phone))
}

// persistComplete writes a complete record, then removes the conversation and
// bumps the counter. Must be called with p.mu held.
func (p *Processor) persistComplete(ctx context.Context, res Result) (Result, error) {
	phone := res.Record.Phone
	routed := p.router.Route(res.Record, true)

	if err := p.write(ctx, routed); err != nil {
		return res, err
	}
	res.Record = routed.Record
	res.Sheet = routed.Sheet
	res.Persisted = true

	// Only after a confirmed write
	if err := p.store.Remove(ctx, phone); err != nil {
		p.logger.Error("Failed to clear conversation after save", zap.String("phone", phone), zap.Error(err))
	}

	count, err := p.tracker.Increment(ctx)
	if err != nil {
		p.logger.Warn("Failed to update registration counter", zap.Error(err))
		res.CounterError = err.Error()
	} else {
		res.Count = count
		if msg, ok := p.tracker.Check(count); ok {
			res.Milestone = msg
			p.logger.Info("Milestone reached", zap.Int("count", count), zap.String("message", msg))
		}
	}

	p.logger.Info("Registration saved",
		zap.String("phone", phone),
		zap.String("sheet", routed.Sheet),
		zap.Int("count", res.Count),
	)
	return res, nil
}

// persistPartial writes an in-progress snapshot unless the policy holds it.
// Must be called with p.mu held.
func (p *Processor) persistPartial(ctx context.Context, res Result) (Result, error) {
	routed := p.router.Route(res.Record, false)
	if routed.Hold {
		p.logger.Info("Uncategorized registration held in memory", zap.String("phone", res.Record.Phone))
		return res, nil
	}

	if err := p.write(ctx, routed); err != nil {
		return res, err
	}
	res.Record = routed.Record
	res.Sheet = routed.Sheet
	res.Persisted = true
	return res, nil
}

func (p *Processor) write(ctx context.Context, routed Routed) error {
	err := p.sink.WriteRecord(ctx, routed.Sheet, routed.Record)
	if err == nil {
		return nil
	}

	p.logger.Error("Failed to persist registration",
		zap.String("phone", routed.Record.Phone),
		zap.String("sheet", routed.Sheet),
		zap.Error(err),
	)
	if !errors.Is(err, registration.ErrStorage) {
		err = fmt.Errorf("%w: %w", registration.ErrStorage, err)
	}
	return fmt.Errorf("intake: persist %s: %w", routed.Record.Phone, err)
}
