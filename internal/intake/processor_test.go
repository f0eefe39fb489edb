package intake

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driver_intake/internal/conversation"
	"driver_intake/internal/extract"
	"driver_intake/internal/milestone"
	"driver_intake/internal/registration"
	"driver_intake/internal/sheets"
)

type memSink struct {
	mu   sync.Mutex
	rows map[string][]registration.Record
	err  error
}

func newMemSink() *memSink {
	return &memSink{rows: make(map[string][]registration.Record)}
}

func (s *memSink) WriteRecord(_ context.Context, sheet string, rec registration.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows[sheet] = append(s.rows[sheet], rec)
	return nil
}

func (s *memSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}

type fixture struct {
	processor *Processor
	store     *conversation.Memory
	sink      *memSink
	tracker   *milestone.Tracker
}

func newFixture(t *testing.T, policy UnknownPolicy) fixture {
	t.Helper()
	store := conversation.NewMemory()
	sink := newMemSink()
	tracker := milestone.NewTracker(milestone.NewFileStore(filepath.Join(t.TempDir(), "counter.txt"), false, nil), nil, nil)
	router := NewRouter(policy, time.UTC)

	return fixture{
		processor: NewProcessor(extract.New(nil), store, router, sink, tracker, nil),
		store:     store,
		sink:      sink,
		tracker:   tracker,
	}
}

func TestProcessCompleteTACInOneMessage(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)

	res, err := fx.processor.Process(ctx, Message{
		Text: "my name is Carlos, CPF 123.456.789-00, phone 11987654321, city São Paulo, company vehicle, course completed: yes",
	})
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.True(t, res.Persisted)
	assert.Equal(t, sheets.SheetTAC, res.Sheet)
	assert.Equal(t, 1, res.Count)
	assert.Empty(t, res.Missing)

	require.Len(t, fx.sink.rows[sheets.SheetTAC], 1)
	saved := fx.sink.rows[sheets.SheetTAC][0]
	assert.Equal(t, registration.StatusComplete, saved.Status)
	assert.Equal(t, registration.CategoryTAC, saved.Category)
	assert.Equal(t, "11987654321", saved.Phone)
	assert.False(t, saved.RegisteredAt.IsZero())

	pending, err := fx.processor.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	count, err := fx.tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProcessAggregateAcrossMessages(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)
	phone := "11912345678"

	first, err := fx.processor.Process(ctx, Message{Text: "phone 11912345678, I'm called Ana, aggregate", Sender: phone})
	require.NoError(t, err)
	assert.False(t, first.Complete)
	assert.False(t, first.Persisted)
	assert.ElementsMatch(t, []registration.Field{registration.FieldCity, registration.FieldLicensePlate}, first.Missing)

	pending, ok, err := fx.store.Get(ctx, phone)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ana", pending.Name)
	assert.Equal(t, 0, fx.sink.total())

	// The follow-up carries no phone; the sender identifies the conversation.
	second, err := fx.processor.Process(ctx, Message{Text: "plate ABC1D23, city Rio de Janeiro", Sender: phone})
	require.NoError(t, err)
	assert.True(t, second.Complete)
	assert.True(t, second.Persisted)
	assert.Equal(t, sheets.SheetAggregate, second.Sheet)

	require.Len(t, fx.sink.rows[sheets.SheetAggregate], 1)
	saved := fx.sink.rows[sheets.SheetAggregate][0]
	assert.Equal(t, "Ana", saved.Name)
	assert.Equal(t, "Rio de Janeiro", saved.City)
	assert.Equal(t, "ABC1D23", saved.LicensePlate)

	_, ok, err = fx.store.Get(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessMergesCountryCodeAndNationalForms(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)
	sender := "+55 11 91234-5678"

	first, err := fx.processor.Process(ctx, Message{
		Text:   "phone (11) 91234-5678, me chamo Ana, agregado, CPF 987.654.321-00",
		Sender: sender,
	})
	require.NoError(t, err)
	assert.Equal(t, "11912345678", first.Record.Phone)
	assert.False(t, first.Complete)

	second, err := fx.processor.Process(ctx, Message{Text: "placa ABC1D23, cidade Rio de Janeiro", Sender: sender})
	require.NoError(t, err)
	assert.True(t, second.Complete)
	assert.True(t, second.Persisted)
	assert.Equal(t, "Ana", second.Record.Name)
	assert.Equal(t, "11912345678", second.Record.Phone)

	pending, err := fx.processor.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, fx.sink.total())

	// A later message typed with the country code lands on the same key.
	_, err = fx.processor.Process(ctx, Message{Text: "telefone +55 (21) 99876-5432, me chamo Rui"})
	require.NoError(t, err)
	_, ok, err := fx.store.Get(ctx, "21998765432")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessWithoutPhoneIsValidationError(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)

	_, err := fx.processor.Process(ctx, Message{Text: "my name is Carlos, city São Paulo, company vehicle"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, registration.ErrValidation))

	pending, err := fx.processor.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 0, fx.sink.total())

	count, err := fx.tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStorageFailureKeepsConversation(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)
	fx.sink.err = errors.New("disk full")
	msg := Message{Text: "my name is Carlos, CPF 123.456.789-00, phone 11987654321, city São Paulo, TAC, course completed: yes"}

	res, err := fx.processor.Process(ctx, msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registration.ErrStorage))
	assert.False(t, res.Persisted)

	kept, ok, err := fx.store.Get(ctx, "11987654321")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, kept.IsComplete())

	// The next message from the same sender retries the write.
	fx.sink.err = nil
	res, err = fx.processor.Process(ctx, Message{Text: "ok", Sender: "11987654321"})
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, 1, res.Count)
	assert.Len(t, fx.sink.rows[sheets.SheetTAC], 1)
}

func TestConcurrentMessagesPersistOnce(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)
	phone := "11912345678"

	_, err := fx.processor.Process(ctx, Message{Text: "phone 11912345678, I'm called Ana, aggregate, plate ABC1D23", Sender: phone})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, city := range []string{"Rio de Janeiro", "Niterói"} {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			_, err := fx.processor.Process(ctx, Message{Text: "city " + city, Sender: phone})
			assert.NoError(t, err)
		}(city)
	}
	wg.Wait()

	assert.Equal(t, 1, fx.sink.total())
	count, err := fx.tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The loser of the race starts a fresh conversation.
	pending, err := fx.processor.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.False(t, pending[0].IsComplete())
}

func TestMilestoneReported(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)

	var last Result
	for _, phone := range []string{"11900000001", "11900000002", "11900000003"} {
		res, err := fx.processor.Submit(ctx, registration.Record{
			Name:         "Driver",
			NationalID:   "123.456.789-00",
			Phone:        phone,
			City:         "Campinas",
			Category:     registration.CategoryAggregate,
			LicensePlate: "abc1d23",
		})
		require.NoError(t, err)
		last = res
	}

	assert.Equal(t, 3, last.Count)
	assert.NotEmpty(t, last.Milestone)
	assert.Equal(t, "ABC1D23", last.Record.LicensePlate)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, UnknownIncomplete)

	t.Run("incomplete goes to incomplete bucket", func(t *testing.T) {
		res, err := fx.processor.Submit(ctx, registration.Record{
			Name:            "Rui",
			Phone:           "(31) 98888-7777",
			Category:        registration.CategoryTAC,
			CourseCompleted: "não",
		})
		require.NoError(t, err)
		assert.False(t, res.Complete)
		assert.True(t, res.Persisted)
		assert.Equal(t, sheets.SheetIncomplete, res.Sheet)
		assert.Equal(t, "31988887777", res.Record.Phone)
		assert.Equal(t, "No", res.Record.CourseCompleted)
		assert.Equal(t, 0, res.Count)
	})

	t.Run("category required", func(t *testing.T) {
		_, err := fx.processor.Submit(ctx, registration.Record{Phone: "31988887777"})
		assert.True(t, errors.Is(err, registration.ErrValidation))
	})

	t.Run("phone required", func(t *testing.T) {
		_, err := fx.processor.Submit(ctx, registration.Record{Category: registration.CategoryTAC})
		assert.True(t, errors.Is(err, registration.ErrValidation))
	})
}

func TestParkAndDiscard(t *testing.T) {
	ctx := context.Background()

	t.Run("park writes snapshot and keeps conversation", func(t *testing.T) {
		fx := newFixture(t, UnknownIncomplete)
		_, err := fx.processor.Process(ctx, Message{Text: "phone 11912345678, I'm called Ana"})
		require.NoError(t, err)

		res, err := fx.processor.Park(ctx, "11912345678")
		require.NoError(t, err)
		assert.True(t, res.Persisted)
		assert.Equal(t, sheets.SheetIncomplete, res.Sheet)
		assert.Equal(t, registration.StatusInProgress, res.Record.Status)

		_, ok, err := fx.store.Get(ctx, "11912345678")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, fx.processor.Discard(ctx, "(11) 91234-5678"))
		_, ok, err = fx.store.Get(ctx, "11912345678")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hold policy keeps uncategorized records out of the workbook", func(t *testing.T) {
		fx := newFixture(t, UnknownHold)
		_, err := fx.processor.Process(ctx, Message{Text: "phone 11912345678, I'm called Ana"})
		require.NoError(t, err)

		res, err := fx.processor.Park(ctx, "11912345678")
		require.NoError(t, err)
		assert.False(t, res.Persisted)
		assert.Equal(t, 0, fx.sink.total())
	})

	t.Run("others policy", func(t *testing.T) {
		fx := newFixture(t, UnknownOthers)
		_, err := fx.processor.Process(ctx, Message{Text: "phone 11912345678, I'm called Ana"})
		require.NoError(t, err)

		res, err := fx.processor.Park(ctx, "11912345678")
		require.NoError(t, err)
		assert.Equal(t, sheets.SheetOthers, res.Sheet)
	})

	t.Run("unknown phone", func(t *testing.T) {
		fx := newFixture(t, UnknownIncomplete)
		_, err := fx.processor.Park(ctx, "11900000000")
		assert.True(t, errors.Is(err, ErrNoConversation))
	})
}
