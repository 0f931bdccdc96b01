package runstate

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/notify"
)

// StatusWriter persists run status rows.
type StatusWriter interface {
	UpdateRunStatus(ctx context.Context, st *model.RunStatus) error
}

// Tracker applies transitions to a status, persists it and publishes an
// agent_status event. It is used from the single coordinating path of a run,
// so it does no locking of its own.
type Tracker struct {
	store StatusWriter
	pub   notify.Publisher
	now   func() time.Time
}

// NewTracker creates a Tracker. pub may be nil.
func NewTracker(store StatusWriter, pub notify.Publisher) *Tracker {
	if pub == nil {
		pub = notify.Nop{}
	}
	return &Tracker{store: store, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

// Transition moves st to state with a new task description. st is only
// modified when the transition is valid and persisted.
func (t *Tracker) Transition(ctx context.Context, st *model.RunStatus, supplierID string, to model.RunState, task string) error {
	if err := Check(st.State, to); err != nil {
		return err
	}

	updated := *st
	updated.State = to
	updated.CurrentTask = task
	updated.LastUpdated = t.now()
	if err := t.store.UpdateRunStatus(ctx, &updated); err != nil {
		return eris.Wrapf(err, "runstate: persist %s for run %s", to, st.WorkflowRunID)
	}
	*st = updated

	t.pub.Publish(ctx, notify.NewAgentStatus(st, supplierID))
	return nil
}

// Progress updates the task text and counters without changing state.
func (t *Tracker) Progress(ctx context.Context, st *model.RunStatus, supplierID, task string, counters model.RunCounters) error {
	prev := st.Counters
	st.Counters = counters
	if err := t.Transition(ctx, st, supplierID, st.State, task); err != nil {
		st.Counters = prev
		return err
	}
	return nil
}

// Fail moves st to Error with cause attached. A status that is already
// terminal is left alone.
func (t *Tracker) Fail(ctx context.Context, st *model.RunStatus, supplierID string, cause error) error {
	if st.State.IsTerminal() {
		zap.L().Warn("runstate: ignoring failure on terminal run",
			zap.String("run_id", st.WorkflowRunID),
			zap.String("state", string(st.State)),
			zap.Error(cause),
		)
		return nil
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	prevErr := st.Error
	st.Error = msg
	if err := t.Transition(ctx, st, supplierID, model.RunStateError, "Failed: "+firstLine(msg)); err != nil {
		st.Error = prevErr
		return err
	}
	return nil
}

// IsInvalidTransition reports whether err came from the machine.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
