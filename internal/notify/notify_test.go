package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockChannel is a mock implementation of the channel interface
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	a := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return amqp.Queue{Name: name}, a.Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func sampleEvent() Event {
	return Event{
		Type:           TypePromoted,
		RegistrationID: "r1",
		HostID:         "h1",
		State:          "complete",
		PreviousState:  "waitlist",
		Count:          2,
		OccurredAt:     time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestAMQPPublisher_DeclaresDurableQueuePerType(t *testing.T) {
	ch := new(MockChannel)
	for _, typ := range Types {
		ch.On("QueueDeclare", typ, true, false, false, false, amqp.Table(nil)).Return(nil).Once()
	}

	_, err := newAMQPPublisher(ch, "", zap.NewNop())
	require.NoError(t, err)
	ch.AssertExpectations(t)
}

func TestAMQPPublisher_PrefixIsDotSeparated(t *testing.T) {
	ch := new(MockChannel)
	ch.On("QueueDeclare", "staging.registration.created", true, false, false, false, amqp.Table(nil)).Return(nil).Once()
	ch.On("QueueDeclare", mock.Anything, true, false, false, false, amqp.Table(nil)).Return(nil)
	ch.On("PublishWithContext", mock.Anything, "", "staging."+TypePromoted, false, false, mock.Anything).Return(nil).Once()

	p, err := newAMQPPublisher(ch, "staging", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Notify(context.Background(), sampleEvent()))
	ch.AssertExpectations(t)
}

func TestAMQPPublisher_PublishesPersistentJSON(t *testing.T) {
	ch := new(MockChannel)
	ch.On("QueueDeclare", mock.Anything, true, false, false, false, amqp.Table(nil)).Return(nil)
	ch.On("PublishWithContext", mock.Anything, "", TypePromoted, false, false, mock.MatchedBy(func(msg amqp.Publishing) bool {
		var ev Event
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			return false
		}
		return msg.DeliveryMode == amqp.Persistent &&
			msg.ContentType == "application/json" &&
			ev.RegistrationID == "r1" && ev.Count == 2
	})).Return(nil).Once()

	p, err := newAMQPPublisher(ch, "", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Notify(context.Background(), sampleEvent()))
	ch.AssertExpectations(t)
}

func TestAMQPPublisher_PublishErrorIsReturned(t *testing.T) {
	ch := new(MockChannel)
	ch.On("QueueDeclare", mock.Anything, true, false, false, false, amqp.Table(nil)).Return(nil)
	ch.On("PublishWithContext", mock.Anything, "", mock.Anything, false, false, mock.Anything).Return(amqp.ErrClosed)

	p, err := newAMQPPublisher(ch, "", zap.NewNop())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Notify(context.Background(), sampleEvent()), amqp.ErrClosed)
}

func TestAMQPPublisher_DeclareFailure(t *testing.T) {
	ch := new(MockChannel)
	ch.On("QueueDeclare", mock.Anything, true, false, false, false, amqp.Table(nil)).Return(errors.New("access refused"))

	_, err := newAMQPPublisher(ch, "", zap.NewNop())
	assert.ErrorContains(t, err, "access refused")
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLogNotifier(zap.New(core)).Notify(context.Background(), sampleEvent()))

	entries := logs.FilterMessage("registration event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, TypePromoted, entries[0].ContextMap()["type"])
}

type failing struct{ err error }

func (f failing) Notify(context.Context, Event) error { return f.err }

func TestMulti_TriesEveryNotifier(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("boom")

	err := Multi{failing{boom}, rec}.Notify(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.Events(), 1)
	assert.Len(t, rec.OfType(TypePromoted), 1)
	assert.Empty(t, rec.OfType(TypeCanceled))
}
