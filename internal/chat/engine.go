package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultRollbackTimeout = 15 * time.Second
	defaultHistoryLimit    = 50
)

type EngineOptions struct {
	Transport       Transport
	Rest            RestClient
	UserID          string
	RollbackTimeout time.Duration
	HistoryLimit    int
	Journal         SendJournal
	Logger          Logger
	Notifier        Notifier
}

type engineCounters struct {
	submitted  uint64
	confirmed  uint64
	rolledBack uint64
	failed     uint64
	duplicates uint64
}

type EngineStatus struct {
	Submitted         uint64 `json:"submitted"`
	Confirmed         uint64 `json:"confirmed"`
	RolledBack        uint64 `json:"rolledBack"`
	Failed            uint64 `json:"failed"`
	DuplicatesDropped uint64 `json:"duplicatesDropped"`
	PendingSends      int    `json:"pendingSends"`
}

// Engine owns the conversation store and decides, for every outgoing send and
// every inbound event, how it must change. All mutations funnel through one
// intent loop, so user actions, rollback timers and socket callbacks never
// race on the list.
type Engine struct {
	transport       Transport
	rest            RestClient
	userID          string
	rollbackTimeout time.Duration
	historyLimit    int
	journal         SendJournal
	logger          Logger
	notifier        Notifier

	store    *ConversationStore
	registry *PendingSendRegistry

	ops    chan func()
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	offs   []func()

	active   ConversationKey
	counters engineCounters
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Rest == nil {
		return nil, fmt.Errorf("rest client is required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	timeout := opts.RollbackTimeout
	if timeout <= 0 {
		timeout = DefaultRollbackTimeout
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		transport:       opts.Transport,
		rest:            opts.Rest,
		userID:          opts.UserID,
		rollbackTimeout: timeout,
		historyLimit:    historyLimit,
		journal:         opts.Journal,
		logger:          opts.Logger,
		notifier:        opts.Notifier,
		store:           NewConversationStore(),
		registry:        NewPendingSendRegistry(),
		ops:             make(chan func(), 64),
		done:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}
	e.offs = []func(){
		opts.Transport.On(EventMessageConfirmed, e.onConfirmedFrame),
		opts.Transport.On(EventMessageCreated, e.onCreatedFrame),
		opts.Transport.On(EventMessageEdited, e.onEditedFrame),
		opts.Transport.On(EventMessageDeleted, e.onDeletedFrame),
		opts.Transport.On(EventReactionChanged, e.onReactionFrame),
	}
	go e.run()
	return e, nil
}

func (e *Engine) run() {
	for {
		select {
		case fn := <-e.ops:
			fn()
		case <-e.done:
			for {
				select {
				case fn := <-e.ops:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) enqueue(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.ops <- fn:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) do(fn func()) error {
	finished := make(chan struct{})
	if !e.enqueue(func() {
		fn()
		close(finished)
	}) {
		return ErrClosed
	}
	<-finished
	return nil
}

// Close tears the engine down: unsubscribes from the transport, cancels
// in-flight REST calls and outstanding rollback timers. The transport itself
// belongs to the caller and stays open.
func (e *Engine) Close() {
	select {
	case <-e.done:
		return
	default:
	}
	for _, off := range e.offs {
		off()
	}
	e.cancel()
	close(e.done)
	e.registry.Close()
}

// Open makes a conversation the active one and re-fetches its history,
// reseeding the store while preserving that conversation's still-pending
// optimistic entries.
func (e *Engine) Open(conversation ConversationKey) error {
	if err := e.do(func() { e.active = conversation }); err != nil {
		return err
	}
	msgs, err := e.rest.ListMessages(e.ctx, conversation, e.historyLimit)
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", conversation, err)
	}
	return e.do(func() {
		if e.active == conversation {
			e.store.Reseed(conversation, msgs)
		}
	})
}

func (e *Engine) Active() ConversationKey {
	var key ConversationKey
	_ = e.do(func() { key = e.active })
	return key
}

// Snapshot returns a read-only copy of a conversation for rendering.
func (e *Engine) Snapshot(conversation ConversationKey) []Message {
	return e.store.Snapshot(conversation)
}

func (e *Engine) Status() EngineStatus {
	var status EngineStatus
	_ = e.do(func() {
		status = EngineStatus{
			Submitted:         e.counters.submitted,
			Confirmed:         e.counters.confirmed,
			RolledBack:        e.counters.rolledBack,
			Failed:            e.counters.failed,
			DuplicatesDropped: e.counters.duplicates,
			PendingSends:      e.registry.Len(),
		}
	})
	return status
}

// Submit accepts a user-authored message: inserts the optimistic entry,
// registers the rollback window, and attempts delivery over the socket or the
// REST fallback. It returns the temp id identifying the in-flight send.
func (e *Engine) Submit(conversation ConversationKey, recipient, content string, attachment *Attachment) (string, error) {
	return e.SubmitWithTimeout(conversation, recipient, content, attachment, e.rollbackTimeout)
}

func (e *Engine) SubmitWithTimeout(conversation ConversationKey, recipient, content string, attachment *Attachment, timeout time.Duration) (string, error) {
	if content == "" && attachment == nil {
		return "", ErrEmptyMessage
	}
	if conversation == "" {
		return "", fmt.Errorf("%w: conversation is required", ErrInvalidInput)
	}
	if timeout <= 0 {
		timeout = e.rollbackTimeout
	}
	draft := Draft{
		TempID:       NewTempID(),
		Conversation: conversation,
		Sender:       e.userID,
		Recipient:    recipient,
		Content:      content,
		Attachment:   attachment,
		CreatedAt:    time.Now(),
	}
	var submitErr error
	err := e.do(func() {
		e.store.AppendPending(draft)
		e.counters.submitted++
		if e.transport.IsConnected() {
			submitErr = e.sendViaSocket(draft, timeout)
			return
		}
		submitErr = e.sendViaRest(draft)
	})
	if err != nil {
		return "", err
	}
	if submitErr != nil {
		return "", submitErr
	}
	return draft.TempID, nil
}

// sendViaSocket emits the send event with an acknowledgement callback and
// arms the rollback timer. Runs inside the intent loop.
func (e *Engine) sendViaSocket(draft Draft, timeout time.Duration) error {
	tempID := draft.TempID
	conversation := draft.Conversation
	if err := e.registry.Register(tempID, conversation, timeout, func() {
		// Timer won the claim; apply the rollback on the loop.
		e.enqueue(func() { e.rollback(tempID, conversation) })
	}); err != nil {
		e.store.RemovePending(conversation, tempID)
		return err
	}
	payload := SendPayload{
		ClientTempID: tempID,
		Conversation: conversation,
		Recipient:    draft.Recipient,
		Content:      draft.Content,
		Attachment:   draft.Attachment,
	}
	err := e.transport.Send(EventMessageSend, payload, func(ack Ack) {
		e.enqueue(func() { e.onAck(tempID, conversation, ack) })
	})
	if err != nil {
		// Connection dropped between the IsConnected check and the write.
		// Reclaim the record and fall back to the awaited path.
		if e.registry.Confirm(tempID) {
			return e.sendViaRest(draft)
		}
		return nil
	}
	e.journalRecord(JournalEntry{TempID: tempID, Conversation: conversation, Outcome: OutcomeSent, At: time.Now()})
	return nil
}

// sendViaRest registers the record without a timer (the call itself is
// awaited) and resolves it off-loop. Runs inside the intent loop.
func (e *Engine) sendViaRest(draft Draft) error {
	if err := e.registry.Register(draft.TempID, draft.Conversation, 0, nil); err != nil {
		e.store.RemovePending(draft.Conversation, draft.TempID)
		return err
	}
	e.journalRecord(JournalEntry{TempID: draft.TempID, Conversation: draft.Conversation, Outcome: OutcomeSent, At: time.Now()})
	go func() {
		msg, err := e.rest.CreateMessage(e.ctx, draft)
		e.enqueue(func() { e.onRestSendResult(draft, msg, err) })
	}()
	return nil
}

func (e *Engine) onRestSendResult(draft Draft, msg Message, err error) {
	if !e.registry.Confirm(draft.TempID) {
		return
	}
	if err != nil {
		e.store.RemovePending(draft.Conversation, draft.TempID)
		e.counters.failed++
		e.journalRecord(JournalEntry{TempID: draft.TempID, Conversation: draft.Conversation, Outcome: OutcomeFailed, Detail: err.Error(), At: time.Now()})
		e.notify(Notice{Kind: NoticeSendFailed, Conversation: draft.Conversation, TempID: draft.TempID, Message: "message could not be sent"})
		return
	}
	if msg.ClientTempID == "" {
		msg.ClientTempID = draft.TempID
	}
	if e.store.Confirm(draft.Conversation, draft.TempID, msg) {
		e.counters.confirmed++
		e.journalRecord(JournalEntry{TempID: draft.TempID, Conversation: draft.Conversation, MessageID: msg.ID, Outcome: OutcomeConfirmed, At: time.Now()})
	}
}

func (e *Engine) onAck(tempID string, conversation ConversationKey, ack Ack) {
	switch ack.Status {
	case AckSuccess:
		// Delivery settled; stop the rollback clock. The optimistic entry
		// stays until the confirmation event replaces it.
		e.registry.Confirm(tempID)
	case AckQueued:
		// Server accepted but has not finalized. Still pending: the timer
		// keeps running and a later ack or confirmation decides.
		e.logf("send %s queued by server", tempID)
	case AckError:
		if !e.registry.Confirm(tempID) {
			return
		}
		e.store.RemovePending(conversation, tempID)
		e.counters.failed++
		e.journalRecord(JournalEntry{TempID: tempID, Conversation: conversation, Outcome: OutcomeFailed, Detail: ack.Message, At: time.Now()})
		e.notify(Notice{Kind: NoticeSendFailed, Conversation: conversation, TempID: tempID, Message: "message could not be sent"})
	default:
		e.logf("send %s: unknown ack status %q", tempID, ack.Status)
	}
}

// rollback runs only after the timer claimed the registry record.
func (e *Engine) rollback(tempID string, conversation ConversationKey) {
	if !e.store.RemovePending(conversation, tempID) {
		// A confirmation slipped in between the claim and this intent; the
		// entry is already confirmed and must stay.
		return
	}
	e.counters.rolledBack++
	e.journalRecord(JournalEntry{TempID: tempID, Conversation: conversation, Outcome: OutcomeRolledBack, At: time.Now()})
	e.notify(Notice{Kind: NoticeSendRolledBack, Conversation: conversation, TempID: tempID, Message: "message was not delivered"})
}

// Edit mutates a confirmed message's content. Still-pending targets are
// rejected before any network call.
func (e *Engine) Edit(conversation ConversationKey, id, content string) error {
	if content == "" {
		return ErrEmptyMessage
	}
	viaSocket := false
	var checkErr error
	err := e.do(func() {
		if checkErr = e.checkTarget(conversation, id); checkErr != nil {
			return
		}
		if !e.transport.IsConnected() {
			return
		}
		viaSocket = true
		checkErr = e.transport.Send(EventMessageEdit, EditPayload{Conversation: conversation, MessageID: id, Content: content}, func(ack Ack) {
			if ack.Status == AckError {
				e.notify(Notice{Kind: NoticeActionFailed, Conversation: conversation, Message: "edit failed"})
			}
		})
	})
	if err != nil {
		return err
	}
	if checkErr != nil || viaSocket {
		return checkErr
	}
	msg, restErr := e.rest.UpdateMessage(e.ctx, conversation, id, content)
	if restErr != nil {
		e.notify(Notice{Kind: NoticeActionFailed, Conversation: conversation, Message: "edit failed"})
		return restErr
	}
	return e.do(func() { e.store.Replace(conversation, msg) })
}

// Delete removes a confirmed message, either for everyone (tombstone) or just
// locally ("for me").
func (e *Engine) Delete(conversation ConversationKey, id string, forEveryone bool) error {
	viaSocket := false
	var checkErr error
	err := e.do(func() {
		if checkErr = e.checkTarget(conversation, id); checkErr != nil {
			return
		}
		if !e.transport.IsConnected() {
			return
		}
		viaSocket = true
		checkErr = e.transport.Send(EventMessageDelete, DeletePayload{Conversation: conversation, MessageID: id, ForEveryone: forEveryone}, func(ack Ack) {
			if ack.Status == AckError {
				e.notify(Notice{Kind: NoticeActionFailed, Conversation: conversation, Message: "delete failed"})
			}
		})
	})
	if err != nil {
		return err
	}
	if checkErr != nil || viaSocket {
		return checkErr
	}
	if restErr := e.rest.DeleteMessage(e.ctx, conversation, id, forEveryone); restErr != nil {
		e.notify(Notice{Kind: NoticeActionFailed, Conversation: conversation, Message: "delete failed"})
		return restErr
	}
	return e.do(func() {
		if forEveryone {
			e.store.ApplyTombstone(conversation, id)
		} else {
			e.store.Remove(conversation, id)
		}
	})
}

// React adds or removes the current user's reaction on a confirmed message.
func (e *Engine) React(conversation ConversationKey, id, emoji string, add bool) error {
	if emoji == "" {
		return fmt.Errorf("%w: emoji is required", ErrInvalidInput)
	}
	event := EventReactionAdd
	if !add {
		event = EventReactionRemove
	}
	viaSocket := false
	var checkErr error
	err := e.do(func() {
		if checkErr = e.checkTarget(conversation, id); checkErr != nil {
			return
		}
		if !e.transport.IsConnected() {
			return
		}
		viaSocket = true
		checkErr = e.transport.Send(event, ReactionPayload{Conversation: conversation, MessageID: id, Emoji: emoji}, func(ack Ack) {
			if ack.Status == AckError {
				e.notify(Notice{Kind: NoticeActionFailed, Conversation: conversation, Message: "reaction failed"})
			}
		})
	})
	if err != nil {
		return err
	}
	if checkErr != nil || viaSocket {
		return checkErr
	}
	var msg Message
	var restErr error
	if add {
		msg, restErr = e.rest.AddReaction(e.ctx, conversation, id, emoji)
	} else {
		msg, restErr = e.rest.RemoveReaction(e.ctx, conversation, id, emoji)
	}
	if restErr != nil {
		e.notify(Notice{Kind: NoticeActionFailed, Conversation: conversation, Message: "reaction failed"})
		return restErr
	}
	return e.do(func() { e.store.Replace(conversation, msg) })
}

// checkTarget enforces the precondition that edit/delete/react only ever see
// confirmed messages. Runs inside the intent loop.
func (e *Engine) checkTarget(conversation ConversationKey, id string) error {
	if id == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}
	if IsTempID(id) || e.store.HasPending(conversation, id) {
		return ErrStillPending
	}
	if !e.store.ContainsID(conversation, id) {
		return ErrNotFound
	}
	return nil
}

func (e *Engine) onConfirmedFrame(payload json.RawMessage) {
	var ev ConfirmedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logf("drop malformed confirmation: %v", err)
		return
	}
	e.enqueue(func() { e.applyConfirmed(ev) })
}

func (e *Engine) applyConfirmed(ev ConfirmedEvent) {
	conversation := ev.Message.Conversation
	e.registry.Confirm(ev.ClientTempID)
	msg := ev.Message
	if msg.ClientTempID == "" {
		msg.ClientTempID = ev.ClientTempID
	}
	if e.store.Confirm(conversation, ev.ClientTempID, msg) {
		e.counters.confirmed++
		e.journalRecord(JournalEntry{TempID: ev.ClientTempID, Conversation: conversation, MessageID: msg.ID, Outcome: OutcomeConfirmed, At: time.Now()})
		return
	}
	// No optimistic match (already reconciled, rolled back, or the user
	// navigated away and back). Keep the authoritative record, deduplicated.
	if !e.store.AppendConfirmed(conversation, msg) {
		e.counters.duplicates++
	}
}

func (e *Engine) onCreatedFrame(payload json.RawMessage) {
	var ev CreatedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logf("drop malformed created event: %v", err)
		return
	}
	e.enqueue(func() { e.applyCreated(ev.Message) })
}

func (e *Engine) applyCreated(msg Message) {
	if msg.Conversation != e.active {
		return
	}
	if msg.Sender == e.userID {
		// Echo of our own send arrives via the confirmation path instead.
		return
	}
	if msg.Recipient != "" && msg.Recipient != e.userID {
		return
	}
	if !e.store.AppendConfirmed(msg.Conversation, msg) {
		e.counters.duplicates++
	}
}

func (e *Engine) onEditedFrame(payload json.RawMessage) {
	var ev EditedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logf("drop malformed edit event: %v", err)
		return
	}
	e.enqueue(func() {
		e.store.ApplyEdit(ev.Conversation, ev.MessageID, ev.Content)
	})
}

func (e *Engine) onDeletedFrame(payload json.RawMessage) {
	var ev DeletedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logf("drop malformed delete event: %v", err)
		return
	}
	e.enqueue(func() {
		if ev.ForEveryone {
			e.store.ApplyTombstone(ev.Conversation, ev.MessageID)
		} else {
			e.store.Remove(ev.Conversation, ev.MessageID)
		}
	})
}

func (e *Engine) onReactionFrame(payload json.RawMessage) {
	var ev ReactionChangedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logf("drop malformed reaction event: %v", err)
		return
	}
	e.enqueue(func() {
		e.store.SetReactions(ev.Conversation, ev.MessageID, ev.Reactions)
	})
}

func (e *Engine) journalRecord(entry JournalEntry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(entry); err != nil {
		e.logf("journal record failed: %v", err)
	}
}

func (e *Engine) notify(notice Notice) {
	if e.notifier == nil {
		return
	}
	e.notifier(notice)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}
