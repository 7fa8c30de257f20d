package agent

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"tabula/model"
)

// errStopped signals that the event consumer broke out of the iteration.
// It never escapes Invoke.
var errStopped = errors.New("event consumer stopped")

// saveTimeout bounds checkpointer writes after a run.
const saveTimeout = 10 * time.Second

// Invoke runs one turn and streams it as events.
//
// messages is the session history including the new user turn; parentID
// is the ID of the user message being answered and becomes the parent of
// every message this turn produces (empty selects the last message).
// date anchors the system prompt (zero means now).
//
// The turn is routed on the entry message: attachments select the
// file-reading pipeline, anything else the analysis loop. Iteration
// stops cleanly when the consumer breaks; a non-nil error ends the
// sequence and the turn.
func (a *Agent) Invoke(ctx context.Context, messages []model.Message, parentID string, date time.Time) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if len(messages) == 0 {
			yield(nil, ErrEmptyHistory)
			return
		}

		history := messages
		if parentID != "" {
			history = model.Thread(messages, parentID)
		}
		// The loop appends produced turns to the history; work on a copy
		// so the caller's slice is never grown into.
		history = slices.Clone(history)
		entry := history[len(history)-1]
		if parentID == "" {
			parentID = entry.ID
		}
		if date.IsZero() {
			date = time.Now()
		}

		r := &run{parentID: parentID, yield: yield}

		var err error
		if entry.HasAttachments() {
			err = a.readFiles(ctx, r, entry)
		} else {
			err = a.analyze(ctx, r, history, entry, date)
		}
		if err != nil {
			r.fail(err)
		}

		a.persist(ctx, entry, r.produced)
	}
}

// run tracks the state of one Invoke turn: the produced messages and the
// yield plumbing. Once the consumer stops or an error is yielded, every
// further emit is a no-op.
type run struct {
	parentID string
	produced []model.Message
	yield    func(Event, error) bool
	stopped  bool
}

// emit yields one event. Returns false once the consumer stopped.
func (r *run) emit(ev Event) bool {
	if r.stopped {
		return false
	}
	if !r.yield(ev, nil) {
		r.stopped = true
		return false
	}
	return true
}

// emitMessage stamps the turn parent on msg, records it as produced, and
// yields it.
func (r *run) emitMessage(msg model.Message) bool {
	msg.ParentID = r.parentID
	r.produced = append(r.produced, msg)
	return r.emit(EventMessage{Message: msg})
}

// fail ends the sequence with err. The consumer-stopped sentinel is
// swallowed, since walking away is not a turn failure.
func (r *run) fail(err error) {
	if r.stopped || errors.Is(err, errStopped) {
		r.stopped = true
		return
	}
	r.yield(nil, err)
	r.stopped = true
}

// persist saves the entry message and everything the turn produced.
// Runs detached from the turn context so a consumer cancel does not lose
// the history; failures are logged, not fatal.
func (a *Agent) persist(ctx context.Context, entry model.Message, produced []model.Message) {
	if a.checkpointer == nil {
		return
	}

	msgs := make([]model.Message, 0, len(produced)+1)
	msgs = append(msgs, entry)
	msgs = append(msgs, produced...)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := a.checkpointer.SaveMessages(sctx, a.sessionID, msgs); err != nil {
		a.logger.Warn("failed to persist turn", "session", a.sessionID, "error", err)
	}
}
