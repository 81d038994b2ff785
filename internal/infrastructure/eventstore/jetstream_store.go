package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
	"github.com/lllypuk/actuality/internal/infrastructure/natsconn"
)

// Message headers set on every commit message.
const (
	HeaderAggregateType = "Actuality-Aggregate-Type"
	HeaderAggregateID   = "Actuality-Aggregate-Id"
	HeaderLastSequence  = "Actuality-Last-Sequence"
)

const (
	jetStreamInitTimeout = 10 * nats.DefaultTimeout
	jetStreamFetchBatch  = 100
	jetStreamFetchWait   = 2 * time.Second
)

// JetStreamStore реализует EventStore поверх NATS JetStream.
//
// Every aggregate has its own subject <prefix>.<aggregate_type>.<aggregate_id>.
// A commit is one message carrying the whole batch, published with the expected
// last subject sequence, so the server rejects a commit made from a stale head.
type JetStreamStore[A aggregate.Root[E], E event.Event] struct {
	connect       natsconn.Connector
	codec         codec.Codec[E]
	newAggregate  aggregate.Factory[A]
	aggregateType string
	opts          *storeOptions

	mu        sync.RWMutex
	closeConn natsconn.CloseFunc
	js        jetstream.JetStream
	stream    jetstream.Stream
}

// NewJetStreamStore создает Event Store на JetStream. The connection is opened in Init.
func NewJetStreamStore[A aggregate.Root[E], E event.Event](
	connect natsconn.Connector,
	newAggregate aggregate.Factory[A],
	c codec.Codec[E],
	opts ...Option,
) *JetStreamStore[A, E] {
	if connect == nil {
		connect = natsconn.ConnectDefault()
	}
	return &JetStreamStore[A, E]{
		connect:       connect,
		codec:         c,
		newAggregate:  newAggregate,
		aggregateType: newAggregate().AggregateType(),
		opts:          newStoreOptions(opts),
	}
}

// Init connects and ensures the stream exists.
func (s *JetStreamStore[A, E]) Init(ctx context.Context, sc appcore.StoreContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.SystemID != "" {
		s.opts.setSystemID(sc.SystemID)
	}
	if s.stream != nil {
		return nil
	}

	nc, closeConn, err := s.connect()
	if err != nil {
		return appcore.NewPersistenceError("init", "", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeConn()
		return appcore.NewPersistenceError("init", "", fmt.Errorf("failed to create jetstream context: %w", err))
	}

	initCtx, cancel := context.WithTimeout(ctx, jetStreamInitTimeout)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(initCtx, s.streamConfig())
	if err != nil {
		closeConn()
		s.opts.logger.ErrorContext(ctx, "failed to ensure jetstream stream",
			slog.String("stream", s.opts.streamName),
			slog.String("error", err.Error()),
		)
		return appcore.NewPersistenceError("init", "", fmt.Errorf("failed to ensure stream: %w", err))
	}

	s.js, s.stream, s.closeConn = js, stream, closeConn

	s.opts.logger.InfoContext(ctx, "jetstream event store initialized",
		slog.String("aggregate_type", s.aggregateType),
		slog.String("stream", s.opts.streamName),
		slog.String("subject_prefix", s.opts.subjectPrefix),
		slog.String("service", sc.ServiceName),
	)
	return nil
}

// Close releases the connection.
func (s *JetStreamStore[A, E]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeConn != nil {
		s.js.CleanupPublisher()
		s.closeConn()
		s.js, s.stream, s.closeConn = nil, nil, nil
	}
	return nil
}

// Commit сохраняет события для агрегата с оптимистичной блокировкой
func (s *JetStreamStore[A, E]) Commit(
	ctx context.Context,
	events []E,
	ac *aggregate.Context[A],
	metadata map[string]string,
) ([]event.Envelope[E], error) {
	if len(events) == 0 {
		return nil, nil
	}

	js, stream, err := s.handles()
	if err != nil {
		return nil, appcore.NewPersistenceError("commit", ac.AggregateID, err)
	}

	aggregateID := ac.AggregateID
	if err = validateSubjectToken(aggregateID); err != nil {
		return nil, appcore.NewPersistenceError("commit", aggregateID, err)
	}
	subject := s.subject(aggregateID)

	// 1. Читаем голову потока
	last, err := stream.GetLastMsgForSubject(ctx, subject)
	var lastStreamSeq uint64
	current := 0
	switch {
	case errors.Is(err, jetstream.ErrMsgNotFound):
	case err != nil:
		return nil, appcore.NewPersistenceError("commit", aggregateID, fmt.Errorf("failed to read head: %w", err))
	default:
		lastStreamSeq = last.Sequence
		current, err = lastSequenceOf(last)
		if err != nil {
			return nil, appcore.NewPersistenceError("commit", aggregateID, err)
		}
	}
	if current != ac.CurrentSequence {
		s.logConflict(ctx, aggregateID, ac.CurrentSequence, current)
		return nil, appcore.NewConflictError(aggregateID, ac.CurrentSequence, current)
	}

	// 2. Публикуем пакет одним сообщением
	envelopes := buildEnvelopes(
		s.aggregateType, aggregateID, s.opts.currentSystemID(),
		current, events, metadata, s.opts.now().UTC(),
	)
	msg, err := s.batchMessage(subject, envelopes)
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to serialize events",
			slog.String("aggregate_id", aggregateID),
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("commit", aggregateID, err)
	}

	_, err = js.PublishMsg(ctx, msg,
		jetstream.WithExpectLastSequencePerSubject(lastStreamSeq),
		jetstream.WithMsgID(envelopes[0].ID),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			s.logConflict(ctx, aggregateID, ac.CurrentSequence, -1)
			return nil, appcore.NewConflictError(aggregateID, ac.CurrentSequence, ac.CurrentSequence+1)
		}
		s.opts.logger.ErrorContext(ctx, "failed to publish events",
			slog.String("aggregate_id", aggregateID),
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("commit", aggregateID, fmt.Errorf("failed to publish: %w", err))
	}

	return envelopes, nil
}

// LoadEvents загружает все события для агрегата
func (s *JetStreamStore[A, E]) LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope[E], error) {
	_, stream, err := s.handles()
	if err != nil {
		return nil, appcore.NewPersistenceError("load", aggregateID, err)
	}
	if err = validateSubjectToken(aggregateID); err != nil {
		return nil, appcore.NewPersistenceError("load", aggregateID, err)
	}

	subject := s.subject(aggregateID)
	last, err := stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return []event.Envelope[E]{}, nil
	}
	if err != nil {
		return nil, appcore.NewPersistenceError("load", aggregateID, fmt.Errorf("failed to read head: %w", err))
	}

	consumer, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, appcore.NewPersistenceError("load", aggregateID, fmt.Errorf("failed to create consumer: %w", err))
	}

	envelopes, err := s.consume(ctx, consumer, last.Sequence)
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to load events from jetstream",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("load", aggregateID, err)
	}
	return envelopes, nil
}

// LoadAggregate replays the aggregate from its committed events.
func (s *JetStreamStore[A, E]) LoadAggregate(ctx context.Context, aggregateID string) (*aggregate.Context[A], error) {
	envelopes, err := s.LoadEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return aggregate.Replay(s.newAggregate, aggregateID, envelopes), nil
}

// AggregateIDs returns the ids of all aggregates of this type with committed events.
func (s *JetStreamStore[A, E]) AggregateIDs(ctx context.Context) ([]string, error) {
	_, stream, err := s.handles()
	if err != nil {
		return nil, appcore.NewPersistenceError("list", "", err)
	}

	prefix := s.subject("")
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(prefix+"*"))
	if err != nil {
		return nil, appcore.NewPersistenceError("list", "", err)
	}

	ids := make([]string, 0, len(info.State.Subjects))
	for subject := range info.State.Subjects {
		ids = append(ids, strings.TrimPrefix(subject, prefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// consume reads the subject until the message with stream sequence endSeq.
func (s *JetStreamStore[A, E]) consume(
	ctx context.Context,
	consumer jetstream.Consumer,
	endSeq uint64,
) ([]event.Envelope[E], error) {
	var envelopes []event.Envelope[E]

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := consumer.Fetch(jetStreamFetchBatch, jetstream.FetchMaxWait(jetStreamFetchWait))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch: %w", err)
		}

		for msg := range batch.Messages() {
			md, errMeta := msg.Metadata()
			if errMeta != nil {
				return nil, fmt.Errorf("failed to read message metadata: %w", errMeta)
			}

			decoded, errDecode := s.decodeBatch(msg.Data())
			if errDecode != nil {
				return nil, errDecode
			}
			envelopes = append(envelopes, decoded...)

			if md.Sequence.Stream >= endSeq {
				return envelopes, nil
			}
		}
		if err = batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("failed to fetch: %w", err)
		}
	}
}

func (s *JetStreamStore[A, E]) batchMessage(subject string, envelopes []event.Envelope[E]) (*nats.Msg, error) {
	records := make([]codec.Record, 0, len(envelopes))
	for _, env := range envelopes {
		r, err := codec.ToRecord(s.codec, env)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderAggregateType, s.aggregateType)
	msg.Header.Set(HeaderAggregateID, envelopes[0].AggregateID)
	msg.Header.Set(HeaderLastSequence, strconv.Itoa(envelopes[len(envelopes)-1].Sequence))
	msg.Data = data
	return msg, nil
}

func (s *JetStreamStore[A, E]) decodeBatch(data []byte) ([]event.Envelope[E], error) {
	var records []codec.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	envelopes := make([]event.Envelope[E], 0, len(records))
	for _, r := range records {
		env, err := codec.FromRecord(s.codec, r)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

func (s *JetStreamStore[A, E]) handles() (jetstream.JetStream, jetstream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stream == nil {
		return nil, nil, errors.New("jetstream event store is not initialized")
	}
	return s.js, s.stream, nil
}

// streamConfig описывает поток событий без лимитов хранения.
func (s *JetStreamStore[A, E]) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       s.opts.streamName,
		Subjects:   []string{s.opts.subjectPrefix + ".>"},
		Storage:    s.opts.stream.Storage,
		Replicas:   s.opts.stream.Replicas,
		MaxMsgSize: s.opts.stream.MaxMsgSize,
		Duplicates: s.opts.stream.DuplicateWindow,
		FirstSeq:   1,
	}
}

// ErrInvalidAggregateID is returned for ids that cannot be a single subject token.
var ErrInvalidAggregateID = errors.New("aggregate id is not a valid subject token")

func validateSubjectToken(aggregateID string) error {
	if aggregateID == "" || strings.ContainsAny(aggregateID, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidAggregateID, aggregateID)
	}
	return nil
}

func (s *JetStreamStore[A, E]) subject(aggregateID string) string {
	return s.opts.subjectPrefix + "." + s.aggregateType + "." + aggregateID
}

func (s *JetStreamStore[A, E]) logConflict(ctx context.Context, aggregateID string, expected, current int) {
	s.opts.logger.WarnContext(ctx, "concurrency conflict in event store",
		slog.String("aggregate_id", aggregateID),
		slog.Int("expected_sequence", expected),
		slog.Int("current_sequence", current),
	)
}

// lastSequenceOf returns the aggregate sequence of the last envelope in a commit message.
func lastSequenceOf(msg *jetstream.RawStreamMsg) (int, error) {
	if v := msg.Header.Get(HeaderLastSequence); v != "" {
		seq, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s header %q: %w", HeaderLastSequence, v, err)
		}
		return seq, nil
	}

	var records []codec.Record
	if err := json.Unmarshal(msg.Data, &records); err != nil {
		return 0, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	if len(records) == 0 {
		return 0, errors.New("empty commit message")
	}
	return records[len(records)-1].Sequence, nil
}
