package conversations

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"atelier/internal/apperrors"
	"atelier/internal/changefeed"
	"atelier/internal/logging"
	"atelier/internal/models"
	"atelier/internal/observability"
	"atelier/internal/profiles"
)

// State is the lifecycle state of an Inbox.
type State int

const (
	StateClosed State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithInboxClock overrides the timestamp given to optimistic messages.
func WithInboxClock(now func() time.Time) InboxOption {
	return func(ib *Inbox) { ib.now = now }
}

// WithCorrelationIDs overrides the correlation id generator.
func WithCorrelationIDs(next func() string) InboxOption {
	return func(ib *Inbox) { ib.nextCorrelation = next }
}

// Inbox is the live conversation list of one viewer. Confirmed messages are
// kept per counterpart and each change event recomputes only the affected
// counterpart; a full reload happens on open and on feed resync.
type Inbox struct {
	viewer string
	svc    *Service
	feed   changefeed.Feed
	logger zerolog.Logger

	now             func() time.Time
	nextCorrelation func() string

	mu         sync.Mutex
	state      State
	messages   map[string]map[string]models.Message
	summaries  map[string]models.Conversation
	profiles   map[string]models.Profile
	optimistic map[string]*models.ThreadMessage
	active     string
	tomb       *tomb.Tomb

	changed chan struct{}
}

// NewInbox constructs a closed Inbox for viewer.
func NewInbox(viewer string, svc *Service, feed changefeed.Feed, opts ...InboxOption) *Inbox {
	ib := &Inbox{
		viewer:          viewer,
		svc:             svc,
		feed:            feed,
		logger:          logging.NewPackageLogger("conversations").With().Str(logging.COMPONENT, "inbox").Str(logging.USER, viewer).Logger(),
		now:             time.Now,
		nextCorrelation: uuid.NewString,
		changed:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(ib)
	}
	ib.reset()
	return ib
}

func (ib *Inbox) reset() {
	ib.messages = make(map[string]map[string]models.Message)
	ib.summaries = make(map[string]models.Conversation)
	ib.profiles = make(map[string]models.Profile)
	ib.optimistic = make(map[string]*models.ThreadMessage)
	ib.active = ""
}

// State returns the current lifecycle state.
func (ib *Inbox) State() State {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.state
}

// Changed signals after every visible change. Signals coalesce.
func (ib *Inbox) Changed() <-chan struct{} {
	return ib.changed
}

func (ib *Inbox) notify() {
	select {
	case ib.changed <- struct{}{}:
	default:
	}
}

// Open loads the inbox and starts following the messages feed. On failure
// the inbox stays closed.
func (ib *Inbox) Open(ctx context.Context) error {
	ib.mu.Lock()
	if ib.state != StateClosed {
		ib.mu.Unlock()
		return nil
	}
	ib.state = StateLoading
	ib.mu.Unlock()

	t, tctx := tomb.WithContext(context.Background())
	events, err := ib.feed.Subscribe(tctx, models.TableMessages)
	if err == nil {
		err = ib.rebuild(ctx, "open")
	}
	if err != nil {
		t.Kill(nil)
		ib.mu.Lock()
		ib.state = StateClosed
		ib.mu.Unlock()
		return err
	}

	ib.mu.Lock()
	ib.state = StateReady
	ib.tomb = t
	ib.mu.Unlock()

	t.Go(func() error { return ib.follow(t, tctx, events) })
	ib.logger.Debug().Msg("inbox open")
	ib.notify()
	return nil
}

// Close stops following the feed and drops all state.
func (ib *Inbox) Close() {
	ib.mu.Lock()
	t := ib.tomb
	ib.tomb = nil
	ib.state = StateClosed
	ib.reset()
	ib.mu.Unlock()

	if t != nil {
		t.Kill(nil)
		_ = t.Wait()
	}
}

func (ib *Inbox) follow(t *tomb.Tomb, ctx context.Context, events <-chan models.ChangeEvent) error {
	// the load in Open happened after subscribing, so the resync queued by
	// the subscription is already covered; resyncs without a table are not
	skipResync := true
	for {
		select {
		case <-t.Dying():
			return nil
		case ev, ok := <-events:
			if !ok {
				ib.logger.Warn().Msg("change feed closed")
				return nil
			}
			if ev.Type == models.ChangeResync {
				if skipResync && ev.Table != "" {
					skipResync = false
					continue
				}
				if err := ib.rebuild(ctx, "resync"); err != nil {
					observability.IncInboxLiveError()
					ib.logger.Error().Err(err).Msg("inbox resync failed, keeping last state")
				}
				continue
			}
			skipResync = false
			ib.apply(ctx, ev)
		}
	}
}

// rebuild replaces all confirmed state with a fresh load.
func (ib *Inbox) rebuild(ctx context.Context, reason string) error {
	msgs, found, err := ib.svc.load(ctx, ib.viewer)
	if err != nil {
		return err
	}
	observability.IncInboxRebuild(reason)

	groups := make(map[string]map[string]models.Message)
	for _, m := range msgs {
		if !counts(ib.viewer, m) {
			continue
		}
		cp := m.Counterpart(ib.viewer)
		if groups[cp] == nil {
			groups[cp] = make(map[string]models.Message)
		}
		groups[cp][m.ID] = m
	}

	ib.mu.Lock()
	ib.messages = groups
	for id, p := range found {
		ib.profiles[id] = p
	}
	ib.summaries = make(map[string]models.Conversation, len(groups))
	for cp := range groups {
		ib.resummarize(cp)
	}
	for _, rec := range ib.optimistic {
		ib.resummarize(rec.ReceiverID)
	}
	ib.mu.Unlock()
	ib.notify()
	return nil
}

// apply folds one row change into the affected counterpart.
func (ib *Inbox) apply(ctx context.Context, ev models.ChangeEvent) {
	msg, err := ev.Message()
	if err != nil {
		observability.IncInboxLiveError()
		ib.logger.Error().Err(err).Str(logging.EVENT, string(ev.Type)).Msg("undecodable change event")
		return
	}
	if !counts(ib.viewer, msg) {
		return
	}
	cp := msg.Counterpart(ib.viewer)
	if ev.Type != models.ChangeDelete {
		ib.ensureProfile(ctx, cp)
	}

	ib.mu.Lock()
	switch ev.Type {
	case models.ChangeDelete:
		delete(ib.messages[cp], msg.ID)
		if len(ib.messages[cp]) == 0 {
			delete(ib.messages, cp)
		}
	default:
		if ib.messages[cp] == nil {
			ib.messages[cp] = make(map[string]models.Message)
		}
		ib.messages[cp][msg.ID] = msg
	}
	ib.resummarize(cp)
	ib.mu.Unlock()
	ib.notify()
}

func (ib *Inbox) ensureProfile(ctx context.Context, id string) {
	ib.mu.Lock()
	_, ok := ib.profiles[id]
	ib.mu.Unlock()
	if ok {
		return
	}

	sctx, cancel := ib.svc.storeContext(ctx)
	defer cancel()
	found, err := ib.svc.lookup(sctx, []string{id})
	if err != nil {
		ib.logger.Warn().Err(err).Str(logging.PEER, id).Msg("profile lookup failed")
		return
	}
	ib.mu.Lock()
	if p, ok := found[id]; ok {
		ib.profiles[id] = p
	}
	ib.mu.Unlock()
}

// resummarize recomputes the conversation for cp. Callers hold mu.
func (ib *Inbox) resummarize(cp string) {
	group := ib.messages[cp]
	confirmed := make([]models.Message, 0, len(group))
	for _, m := range group {
		confirmed = append(confirmed, m)
	}
	conv, ok := summarize(ib.viewer, cp, confirmed, ib.optimisticFor(cp))
	if !ok {
		delete(ib.summaries, cp)
		return
	}
	ib.summaries[cp] = conv
}

func (ib *Inbox) optimisticFor(cp string) []models.ThreadMessage {
	var out []models.ThreadMessage
	for _, rec := range ib.optimistic {
		if rec.ReceiverID == cp {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CorrelationID < out[j].CorrelationID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Conversations returns the current inbox, newest first.
func (ib *Inbox) Conversations() []models.Conversation {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	out := make([]models.Conversation, 0, len(ib.summaries))
	for cp, conv := range ib.summaries {
		conv.Profile = profiles.Resolve(ib.profiles, cp)
		out = append(out, conv)
	}
	Sort(out)
	return out
}

// Thread returns the messages with counterpart, oldest first, followed by
// optimistic messages not yet confirmed.
func (ib *Inbox) Thread(counterpart string) []models.ThreadMessage {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.threadLocked(counterpart)
}

func (ib *Inbox) threadLocked(cp string) []models.ThreadMessage {
	group := ib.messages[cp]
	out := make([]models.ThreadMessage, 0, len(group))
	for _, m := range group {
		out = append(out, models.ThreadMessage{Message: m, Delivery: models.DeliverySent})
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Newer(out[i].Message) })
	return append(out, ib.optimisticFor(cp)...)
}

// ActiveThread is the counterpart of the open thread, or "".
func (ib *Inbox) ActiveThread() string {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.active
}

// OpenThread makes counterpart the active thread, loads it and marks it read.
// Marking happens once per transition: re-opening the active thread only
// returns it. The thread is returned even when marking read fails.
func (ib *Inbox) OpenThread(ctx context.Context, counterpart string) ([]models.ThreadMessage, error) {
	if err := validatePair(ib.viewer, counterpart); err != nil {
		return nil, err
	}

	ib.mu.Lock()
	if ib.state != StateReady {
		ib.mu.Unlock()
		return nil, apperrors.ErrInboxClosed
	}
	if ib.active == counterpart {
		thread := ib.threadLocked(counterpart)
		ib.mu.Unlock()
		return thread, nil
	}
	ib.active = counterpart
	ib.mu.Unlock()

	msgs, err := ib.svc.Thread(ctx, ib.viewer, counterpart)
	if err != nil {
		ib.mu.Lock()
		if ib.active == counterpart {
			ib.active = ""
		}
		ib.mu.Unlock()
		return nil, err
	}
	ib.ensureProfile(ctx, counterpart)

	ib.mu.Lock()
	ib.mergeLocked(counterpart, msgs)
	ib.resummarize(counterpart)
	ib.mu.Unlock()

	_, markErr := ib.MarkRead(ctx, counterpart)
	ib.notify()
	return ib.Thread(counterpart), markErr
}

// mergeLocked adds loaded rows missing from cp's group. Rows already held
// came from the feed after the load started and are kept as they are.
func (ib *Inbox) mergeLocked(cp string, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	group := ib.messages[cp]
	if group == nil {
		group = make(map[string]models.Message, len(msgs))
		ib.messages[cp] = group
	}
	for _, m := range msgs {
		if _, ok := group[m.ID]; !ok {
			group[m.ID] = m
		}
	}
}

// CloseThread clears the active thread so the next OpenThread marks again.
func (ib *Inbox) CloseThread() {
	ib.mu.Lock()
	ib.active = ""
	ib.mu.Unlock()
}

// MarkRead marks counterpart's messages read in the store and then zeroes the
// local unread count without waiting for the change feed.
func (ib *Inbox) MarkRead(ctx context.Context, counterpart string) (int64, error) {
	if ib.State() != StateReady {
		return 0, apperrors.ErrInboxClosed
	}
	n, err := ib.svc.MarkRead(ctx, ib.viewer, counterpart)
	if err != nil {
		return 0, err
	}

	ib.mu.Lock()
	for id, m := range ib.messages[counterpart] {
		if m.UnreadBy(ib.viewer) {
			m.IsRead = true
			ib.messages[counterpart][id] = m
		}
	}
	ib.resummarize(counterpart)
	ib.mu.Unlock()
	ib.notify()
	return n, nil
}

// SendMessage shows content in the thread as pending, stores it and then
// swaps the pending record for the stored row. When the store fails the
// record stays in the thread as failed and the error is returned. Replying
// reads the conversation, so anything unread from counterpart is marked read.
func (ib *Inbox) SendMessage(ctx context.Context, counterpart, content string) (models.ThreadMessage, error) {
	if err := ValidateMessage(ib.viewer, counterpart, content); err != nil {
		observability.IncMessageSent("invalid")
		return models.ThreadMessage{}, err
	}
	if ib.State() != StateReady {
		return models.ThreadMessage{}, apperrors.ErrInboxClosed
	}
	ib.ensureProfile(ctx, counterpart)

	rec := &models.ThreadMessage{
		Message: models.Message{
			SenderID:   ib.viewer,
			ReceiverID: counterpart,
			Content:    strings.TrimSpace(content),
			CreatedAt:  ib.now(),
		},
		Delivery:      models.DeliveryPending,
		CorrelationID: ib.nextCorrelation(),
	}
	ib.mu.Lock()
	ib.optimistic[rec.CorrelationID] = rec
	ib.resummarize(counterpart)
	unread := ib.summaries[counterpart].UnreadCount
	ib.mu.Unlock()
	ib.notify()

	if unread > 0 {
		if _, err := ib.MarkRead(ctx, counterpart); err != nil {
			ib.logger.Warn().Err(err).Str(logging.PEER, counterpart).Msg("mark read on reply failed")
		}
	}
	return ib.deliver(ctx, rec.CorrelationID)
}

// Retry resends a failed optimistic message.
func (ib *Inbox) Retry(ctx context.Context, correlationID string) (models.ThreadMessage, error) {
	ib.mu.Lock()
	rec, ok := ib.optimistic[correlationID]
	if !ok {
		ib.mu.Unlock()
		return models.ThreadMessage{}, apperrors.ErrUnknownCorrelation
	}
	if rec.Delivery != models.DeliveryFailed {
		ib.mu.Unlock()
		return models.ThreadMessage{}, apperrors.ErrNotFailed
	}
	rec.Delivery = models.DeliveryPending
	ib.resummarize(rec.ReceiverID)
	ib.mu.Unlock()
	ib.notify()

	return ib.deliver(ctx, correlationID)
}

// Discard drops a failed optimistic message.
func (ib *Inbox) Discard(correlationID string) error {
	ib.mu.Lock()
	rec, ok := ib.optimistic[correlationID]
	if !ok {
		ib.mu.Unlock()
		return apperrors.ErrUnknownCorrelation
	}
	if rec.Delivery != models.DeliveryFailed {
		ib.mu.Unlock()
		return apperrors.ErrNotFailed
	}
	delete(ib.optimistic, correlationID)
	ib.resummarize(rec.ReceiverID)
	ib.mu.Unlock()
	ib.notify()
	return nil
}

func (ib *Inbox) deliver(ctx context.Context, correlationID string) (models.ThreadMessage, error) {
	ib.mu.Lock()
	rec, ok := ib.optimistic[correlationID]
	if !ok {
		ib.mu.Unlock()
		return models.ThreadMessage{}, apperrors.ErrUnknownCorrelation
	}
	cp, content := rec.ReceiverID, rec.Content
	ib.mu.Unlock()

	msg, err := ib.svc.SendMessage(ctx, ib.viewer, cp, content)

	ib.mu.Lock()
	defer ib.notify()
	defer ib.mu.Unlock()
	if err != nil {
		failed := models.ThreadMessage{}
		if rec, ok := ib.optimistic[correlationID]; ok {
			rec.Delivery = models.DeliveryFailed
			failed = *rec
		}
		ib.resummarize(cp)
		ib.logger.Warn().Err(err).Str(logging.PEER, cp).Str("correlation_id", correlationID).Msg("optimistic send failed")
		return failed, err
	}

	delete(ib.optimistic, correlationID)
	if ib.messages[cp] == nil {
		ib.messages[cp] = make(map[string]models.Message)
	}
	ib.messages[cp][msg.ID] = msg
	ib.resummarize(cp)
	return models.ThreadMessage{Message: msg, Delivery: models.DeliverySent, CorrelationID: correlationID}, nil
}
