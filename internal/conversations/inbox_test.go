package conversations

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"atelier/internal/apperrors"
	"atelier/internal/changefeed"
	"atelier/internal/mocks"
	"atelier/internal/models"
	"atelier/internal/repositories"
)

type inboxFixture struct {
	store  *repositories.MemoryStore
	broker *changefeed.Broker
	svc    *Service
	inbox  *Inbox
}

func newInboxFixture(t *testing.T, viewer string) *inboxFixture {
	t.Helper()
	broker := changefeed.NewBroker(64)
	store := repositories.NewMemoryStore(repositories.WithEventSink(broker), repositories.WithClock(clock(t0)))
	svc := NewService(store, testDirectory())
	f := &inboxFixture{store: store, broker: broker, svc: svc}
	f.inbox = NewInbox(viewer, svc, broker, WithInboxClock(clock(t0.Add(24*time.Hour))))
	t.Cleanup(f.inbox.Close)
	return f
}

func (f *inboxFixture) open(t *testing.T) {
	t.Helper()
	require.NoError(t, f.inbox.Open(context.Background()))
	require.Equal(t, StateReady, f.inbox.State())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func unreadFrom(ib *Inbox, cp string) int {
	for _, c := range ib.Conversations() {
		if c.CounterpartID == cp {
			return c.UnreadCount
		}
	}
	return -1
}

func TestInboxOpenLoadsConversations(t *testing.T) {
	f := newInboxFixture(t, "u2")
	ctx := context.Background()
	_, err := f.svc.SendMessage(ctx, "u1", "u2", "m1")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, "u1", "u2", "m2")
	require.NoError(t, err)

	assert.Equal(t, StateClosed, f.inbox.State())
	f.open(t)

	list := f.inbox.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, "m2", list[0].LastMessage)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, "Uma", list[0].Profile.Name)
}

func TestInboxOpenFailureStaysClosed(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("ListForUser", mock.Anything, "u2").Return(nil, errors.New("store down"))
	broker := changefeed.NewBroker(4)
	ib := NewInbox("u2", NewService(repo, testDirectory()), broker)

	err := ib.Open(context.Background())
	assert.Equal(t, apperrors.CodeStoreFailure, apperrors.CodeOf(err))
	assert.Equal(t, StateClosed, ib.State())
	waitFor(t, func() bool { return broker.Subscribers() == 0 })

	_, err = ib.OpenThread(context.Background(), "u1")
	assert.ErrorIs(t, err, apperrors.ErrInboxClosed)
}

func TestInboxLiveInsertMovesConversationToTop(t *testing.T) {
	f := newInboxFixture(t, "u2")
	ctx := context.Background()
	_, err := f.svc.SendMessage(ctx, "u1", "u2", "older")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, "u3", "u2", "newer")
	require.NoError(t, err)
	f.open(t)
	require.Equal(t, "u3", f.inbox.Conversations()[0].CounterpartID)

	_, err = f.svc.SendMessage(ctx, "u1", "u2", "newest")
	require.NoError(t, err)

	waitFor(t, func() bool {
		list := f.inbox.Conversations()
		return len(list) == 2 && list[0].CounterpartID == "u1" && list[0].UnreadCount == 2
	})
	select {
	case <-f.inbox.Changed():
	default:
		t.Fatal("expected a change signal")
	}
}

func TestInboxIgnoresOtherUsersMessages(t *testing.T) {
	f := newInboxFixture(t, "u2")
	f.open(t)

	_, err := f.svc.SendMessage(context.Background(), "u1", "u3", "not for u2")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), "u1", "u2", "for u2")
	require.NoError(t, err)

	waitFor(t, func() bool { return len(f.inbox.Conversations()) == 1 })
	assert.Equal(t, "u1", f.inbox.Conversations()[0].CounterpartID)
}

func TestInboxOpenThreadMarksReadOncePerTransition(t *testing.T) {
	broker := changefeed.NewBroker(64)
	store := repositories.NewMemoryStore(repositories.WithEventSink(broker), repositories.WithClock(clock(t0)))
	events := &recordedEvents{}
	svc := NewService(store, testDirectory(), WithEvents(events))
	ib := NewInbox("u2", svc, broker)
	t.Cleanup(ib.Close)
	ctx := context.Background()

	m1, err := svc.SendMessage(ctx, "u1", "u2", "m1")
	require.NoError(t, err)
	m2, err := svc.SendMessage(ctx, "u1", "u2", "m2")
	require.NoError(t, err)
	require.NoError(t, ib.Open(ctx))

	thread, err := ib.OpenThread(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, m1.ID, thread[0].ID)
	assert.True(t, thread[0].IsRead)
	assert.Equal(t, models.DeliverySent, thread[1].Delivery)
	assert.Equal(t, 0, unreadFrom(ib, "u1"))
	for _, id := range []string{m1.ID, m2.ID} {
		stored, _ := store.Message(id)
		assert.True(t, stored.IsRead)
	}

	_, err = ib.OpenThread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", ib.ActiveThread())
	events.mu.Lock()
	assert.Equal(t, []int64{2}, events.read)
	events.mu.Unlock()

	_, err = svc.SendMessage(ctx, "u1", "u2", "m3")
	require.NoError(t, err)
	waitFor(t, func() bool { return unreadFrom(ib, "u1") == 1 })

	ib.CloseThread()
	_, err = ib.OpenThread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, unreadFrom(ib, "u1"))
	events.mu.Lock()
	assert.Equal(t, []int64{2, 1}, events.read)
	events.mu.Unlock()
}

func TestInboxMarkReadIsImmediate(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	msgs := []models.Message{
		msg("m1", "u1", "u2", 0, false),
		msg("m2", "u1", "u2", time.Minute, false),
	}
	repo.On("ListForUser", mock.Anything, "u2").Return(msgs, nil)
	repo.On("MarkRead", mock.Anything, "u2", "u1").Return(int64(2), nil).Once()

	// the broker never delivers the resulting updates
	ib := NewInbox("u2", NewService(repo, testDirectory()), changefeed.NewBroker(4))
	t.Cleanup(ib.Close)
	require.NoError(t, ib.Open(context.Background()))
	require.Equal(t, 2, unreadFrom(ib, "u1"))

	n, err := ib.MarkRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 0, unreadFrom(ib, "u1"))
	for _, m := range ib.Thread("u1") {
		assert.True(t, m.IsRead)
	}
	repo.AssertExpectations(t)
}

func TestInboxMarkReadFailureKeepsUnread(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("ListForUser", mock.Anything, "u2").Return([]models.Message{msg("m1", "u1", "u2", 0, false)}, nil)
	repo.On("MarkRead", mock.Anything, "u2", "u1").Return(nil, errors.New("offline"))

	ib := NewInbox("u2", NewService(repo, testDirectory()), changefeed.NewBroker(4))
	t.Cleanup(ib.Close)
	require.NoError(t, ib.Open(context.Background()))

	_, err := ib.MarkRead(context.Background(), "u1")
	assert.Equal(t, apperrors.CodeStoreFailure, apperrors.CodeOf(err))
	assert.Equal(t, 1, unreadFrom(ib, "u1"))
}

func TestInboxSendMessageOptimisticSuccess(t *testing.T) {
	f := newInboxFixture(t, "u1")
	ctx := context.Background()
	hello, err := f.svc.SendMessage(ctx, "u2", "u1", "hello")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, "u3", "u1", "later")
	require.NoError(t, err)
	f.open(t)
	require.Equal(t, "u3", f.inbox.Conversations()[0].CounterpartID)
	require.Equal(t, 1, unreadFrom(f.inbox, "u2"))

	sent, err := f.inbox.SendMessage(ctx, "u2", "  reply  ")
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySent, sent.Delivery)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "reply", sent.Content)

	top := f.inbox.Conversations()[0]
	assert.Equal(t, "u2", top.CounterpartID)
	assert.Equal(t, "reply", top.LastMessage)
	assert.Zero(t, top.UnreadCount)
	assert.Zero(t, top.Pending)
	stored, _ := f.store.Message(hello.ID)
	assert.True(t, stored.IsRead)

	thread := f.inbox.Thread("u2")
	require.Len(t, thread, 2)
	assert.Equal(t, sent.ID, thread[1].ID)
	assert.Equal(t, models.DeliverySent, thread[1].Delivery)

	waitFor(t, func() bool { return len(f.inbox.Thread("u2")) == 2 })
}

func TestInboxReplyWithoutOpeningThreadReadsConversation(t *testing.T) {
	f := newInboxFixture(t, "u2")
	ctx := context.Background()
	for _, content := range []string{"m1", "m2"} {
		_, err := f.svc.SendMessage(ctx, "u1", "u2", content)
		require.NoError(t, err)
	}
	f.open(t)
	require.Equal(t, 2, unreadFrom(f.inbox, "u1"))

	_, err := f.inbox.SendMessage(ctx, "u1", "reply")
	require.NoError(t, err)

	top := f.inbox.Conversations()[0]
	assert.Equal(t, "u1", top.CounterpartID)
	assert.Equal(t, "reply", top.LastMessage)
	assert.Zero(t, top.UnreadCount)
	assert.Empty(t, f.inbox.ActiveThread())

	want, err := f.svc.ListConversations(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, want, 1)
	assert.Zero(t, want[0].UnreadCount)
}

func TestInboxReplyMarkReadFailureStillSends(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("ListForUser", mock.Anything, "u2").Return([]models.Message{msg("m1", "u1", "u2", 0, false)}, nil)
	repo.On("MarkRead", mock.Anything, "u2", "u1").Return(nil, errors.New("offline")).Once()
	repo.On("CreateMessage", mock.Anything, "u2", "u1", "ok").
		Return(models.Message{ID: "m2", SenderID: "u2", ReceiverID: "u1", Content: "ok", CreatedAt: t0.Add(time.Hour)}, nil).Once()

	ib := NewInbox("u2", NewService(repo, testDirectory()), changefeed.NewBroker(4))
	t.Cleanup(ib.Close)
	require.NoError(t, ib.Open(context.Background()))

	sent, err := ib.SendMessage(context.Background(), "u1", "ok")
	require.NoError(t, err)
	assert.Equal(t, "m2", sent.ID)
	assert.Equal(t, 1, unreadFrom(ib, "u1"))
	repo.AssertExpectations(t)
}

func TestInboxSendMessageFailureThenRetry(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("ListForUser", mock.Anything, "u1").Return([]models.Message{}, nil)
	repo.On("CreateMessage", mock.Anything, "u1", "u2", "look book").Return(nil, errors.New("network")).Once()
	repo.On("CreateMessage", mock.Anything, "u1", "u2", "look book").
		Return(models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "look book", CreatedAt: t0}, nil).Once()

	ib := NewInbox("u1", NewService(repo, testDirectory()), changefeed.NewBroker(4), WithCorrelationIDs(func() string { return "corr-1" }))
	t.Cleanup(ib.Close)
	require.NoError(t, ib.Open(context.Background()))

	failed, err := ib.SendMessage(context.Background(), "u2", "look book")
	assert.Equal(t, apperrors.CodeStoreFailure, apperrors.CodeOf(err))
	assert.Equal(t, models.DeliveryFailed, failed.Delivery)
	assert.Equal(t, "corr-1", failed.CorrelationID)

	list := ib.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Failed)
	assert.Equal(t, "Vic", list[0].Profile.Name)
	thread := ib.Thread("u2")
	require.Len(t, thread, 1)
	assert.Equal(t, models.DeliveryFailed, thread[0].Delivery)

	sent, err := ib.Retry(context.Background(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", sent.ID)
	assert.Equal(t, models.DeliverySent, sent.Delivery)

	list = ib.Conversations()
	require.Len(t, list, 1)
	assert.Zero(t, list[0].Failed)
	assert.Equal(t, "m1", list[0].LastMessageID)

	_, err = ib.Retry(context.Background(), "corr-1")
	assert.ErrorIs(t, err, apperrors.ErrUnknownCorrelation)
	repo.AssertExpectations(t)
}

func TestInboxDiscardFailedMessage(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("ListForUser", mock.Anything, "u1").Return([]models.Message{}, nil)
	repo.On("CreateMessage", mock.Anything, "u1", "u2", "hi").Return(nil, errors.New("network"))

	ib := NewInbox("u1", NewService(repo, testDirectory()), changefeed.NewBroker(4), WithCorrelationIDs(func() string { return "corr-9" }))
	t.Cleanup(ib.Close)
	require.NoError(t, ib.Open(context.Background()))

	_, err := ib.SendMessage(context.Background(), "u2", "hi")
	require.Error(t, err)
	require.Len(t, ib.Conversations(), 1)

	require.NoError(t, ib.Discard("corr-9"))
	assert.Empty(t, ib.Conversations())
	assert.Empty(t, ib.Thread("u2"))
	assert.ErrorIs(t, ib.Discard("corr-9"), apperrors.ErrUnknownCorrelation)
}

func TestInboxSendMessageValidation(t *testing.T) {
	f := newInboxFixture(t, "u1")
	f.open(t)

	_, err := f.inbox.SendMessage(context.Background(), "u2", "   ")
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)
	assert.Empty(t, f.inbox.Conversations())
	msgs, err := f.store.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestInboxResyncRebuilds(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("ListForUser", mock.Anything, "u2").Return([]models.Message{msg("m1", "u1", "u2", 0, false)}, nil).Once()
	repo.On("ListForUser", mock.Anything, "u2").Return([]models.Message{
		msg("m1", "u1", "u2", 0, false),
		msg("m2", "u3", "u2", time.Minute, false),
	}, nil)
	broker := changefeed.NewBroker(4)
	ib := NewInbox("u2", NewService(repo, testDirectory()), broker)
	t.Cleanup(ib.Close)
	require.NoError(t, ib.Open(context.Background()))
	require.Len(t, ib.Conversations(), 1)

	broker.Resync()
	waitFor(t, func() bool { return len(ib.Conversations()) == 2 })
	assert.Equal(t, "u3", ib.Conversations()[0].CounterpartID)
}

func TestInboxResyncFailureKeepsLastState(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("ListForUser", mock.Anything, "u2").Return([]models.Message{msg("m1", "u1", "u2", 0, false)}, nil).Once()
	reloaded := make(chan struct{})
	repo.On("ListForUser", mock.Anything, "u2").Return(nil, errors.New("store down")).
		Run(func(mock.Arguments) { close(reloaded) }).Once()
	broker := changefeed.NewBroker(4)
	ib := NewInbox("u2", NewService(repo, testDirectory()), broker)
	t.Cleanup(ib.Close)
	require.NoError(t, ib.Open(context.Background()))

	broker.Resync()
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("resync did not reload")
	}
	assert.Len(t, ib.Conversations(), 1)
	assert.Equal(t, StateReady, ib.State())
}

func TestInboxCloseUnsubscribes(t *testing.T) {
	f := newInboxFixture(t, "u1")
	f.open(t)
	require.Equal(t, 1, f.broker.Subscribers())

	f.inbox.Close()
	assert.Equal(t, StateClosed, f.inbox.State())
	waitFor(t, func() bool { return f.broker.Subscribers() == 0 })
	assert.Empty(t, f.inbox.Conversations())
}

func TestInboxReducerMatchesRebuild(t *testing.T) {
	f := newInboxFixture(t, "me")
	ctx := context.Background()
	faker := gofakeit.New(11)
	rng := rand.New(rand.NewSource(11))
	people := []string{"u1", "u2", "u3", "x1", "x2"}

	seed := func() {
		from, to := "me", people[rng.Intn(len(people))]
		if rng.Intn(2) == 0 {
			from, to = to, from
		}
		_, err := f.svc.SendMessage(ctx, from, to, faker.Sentence(4))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		seed()
	}
	f.open(t)

	var ids []string
	for i := 0; i < 60; i++ {
		switch op := rng.Intn(10); {
		case op < 5:
			seed()
		case op < 7:
			_, err := f.svc.MarkRead(ctx, "me", people[rng.Intn(len(people))])
			require.NoError(t, err)
		case op < 8:
			_, err := f.svc.SendMessage(ctx, "x1", "x2", "unrelated")
			require.NoError(t, err)
		default:
			msgs, err := f.store.ListForUser(ctx, "me")
			require.NoError(t, err)
			if len(msgs) > 0 {
				victim := msgs[rng.Intn(len(msgs))]
				ids = append(ids, victim.ID)
				f.store.DeleteMessage(victim.ID)
			}
		}
	}

	want := func() []models.Conversation {
		list, err := f.svc.ListConversations(ctx, "me")
		require.NoError(t, err)
		return list
	}
	waitFor(t, func() bool {
		return assert.ObjectsAreEqual(fmt.Sprint(want()), fmt.Sprint(f.inbox.Conversations()))
	})
	assert.Equal(t, want(), f.inbox.Conversations())
	assert.NotEmpty(t, ids)
}

// threadHookRepo runs afterLoad once, right after a thread has been read.
type threadHookRepo struct {
	*repositories.MemoryStore
	afterLoad func()
}

func (r *threadHookRepo) ListThread(ctx context.Context, userID, counterpartID string) ([]models.Message, error) {
	msgs, err := r.MemoryStore.ListThread(ctx, userID, counterpartID)
	if hook := r.afterLoad; hook != nil {
		r.afterLoad = nil
		hook()
	}
	return msgs, err
}

func TestInboxOpenThreadKeepsMessagesArrivingDuringLoad(t *testing.T) {
	broker := changefeed.NewBroker(64)
	repo := &threadHookRepo{
		MemoryStore: repositories.NewMemoryStore(repositories.WithEventSink(broker), repositories.WithClock(clock(t0))),
	}
	svc := NewService(repo, testDirectory())
	ib := NewInbox("u1", svc, broker)
	t.Cleanup(ib.Close)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, "u2", "u1", "old")
	require.NoError(t, err)
	require.NoError(t, ib.Open(ctx))

	repo.afterLoad = func() {
		_, err := svc.SendMessage(ctx, "u2", "u1", "arrived during open")
		require.NoError(t, err)
		waitFor(t, func() bool {
			list := ib.Conversations()
			return len(list) == 1 && list[0].LastMessage == "arrived during open"
		})
	}

	thread, err := ib.OpenThread(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "old", thread[0].Content)
	assert.Equal(t, "arrived during open", thread[1].Content)

	list := ib.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, "arrived during open", list[0].LastMessage)
	assert.Zero(t, list[0].UnreadCount)

	stored, err := repo.ListThread(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, stored, len(ib.Thread("u2")))
}
