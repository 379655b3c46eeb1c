package deadletter

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/eventworker/internal/journal"
	"git.home.luguber.info/inful/eventworker/internal/queue"
)

type failedMark struct {
	eventID, reason string
}

type fakeStatus struct{ marks []failedMark }

func (f *fakeStatus) MarkFailed(_ context.Context, eventID, reason string) {
	f.marks = append(f.marks, failedMark{eventID, reason})
}

type fakeSender struct {
	bodies [][]byte
	attrs  []map[string]string
	err    error
}

func (f *fakeSender) Send(_ context.Context, body []byte, attrs map[string]string) (string, error) {
	f.bodies = append(f.bodies, body)
	f.attrs = append(f.attrs, attrs)
	if f.err != nil {
		return "", f.err
	}
	return "dlq-1", nil
}

type fakeDeleter struct {
	receipts []string
	err      error
}

func (f *fakeDeleter) Delete(_ context.Context, receipt string) error {
	f.receipts = append(f.receipts, receipt)
	return f.err
}

func message() queue.Message {
	return queue.Message{ID: "m1", Body: []byte(`{"event_id":"e1"}`), Receipt: "r1", Attributes: map[string]string{queue.AttrEventType: "x"}}
}

func TestRouteForwardsOriginalBodyOnce(t *testing.T) {
	st, dlq, primary := &fakeStatus{}, &fakeSender{}, &fakeDeleter{}
	r := NewRouter(st, primary, WithDestination(dlq))
	msg := message()

	out := r.Route(t.Context(), msg, "e1", stderrors.New("handler exploded"))

	assert.Equal(t, Outcome{Forwarded: true, MessageID: "dlq-1", Deleted: true}, out)
	require.Len(t, dlq.bodies, 1)
	assert.Equal(t, msg.Body, dlq.bodies[0])
	assert.Equal(t, "handler exploded", dlq.attrs[0][AttrFailureReason])
	assert.Equal(t, "x", dlq.attrs[0][queue.AttrEventType])
	assert.NotContains(t, msg.Attributes, AttrFailureReason, "original attributes untouched")
	assert.Equal(t, []string{"r1"}, primary.receipts)
	assert.Equal(t, []failedMark{{"e1", "handler exploded"}}, st.marks)
}

func TestRouteDeletesWhenForwardFails(t *testing.T) {
	st, dlq, primary := &fakeStatus{}, &fakeSender{err: stderrors.New("dlq down")}, &fakeDeleter{}
	r := NewRouter(st, primary, WithDestination(dlq))

	out := r.Route(t.Context(), message(), "e1", stderrors.New("boom"))

	assert.False(t, out.Forwarded)
	assert.False(t, out.Spooled)
	assert.True(t, out.Deleted)
	assert.Len(t, dlq.bodies, 1, "forward is not retried")
	assert.Equal(t, []string{"r1"}, primary.receipts)
}

func TestRouteWithoutDestination(t *testing.T) {
	st, primary := &fakeStatus{}, &fakeDeleter{}
	out := NewRouter(st, primary).Route(t.Context(), message(), "", stderrors.New("unparseable"))

	assert.Equal(t, Outcome{Deleted: true}, out)
	assert.Equal(t, []failedMark{{"", "unparseable"}}, st.marks)
	assert.Equal(t, []string{"r1"}, primary.receipts)
}

func TestRouteSpoolsAndReplays(t *testing.T) {
	j, err := journal.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := t.Context()
	broken := &fakeSender{err: stderrors.New("dlq down")}
	r := NewRouter(&fakeStatus{}, &fakeDeleter{}, WithDestination(broken), WithSpool(j))

	msg := message()
	out := r.Route(ctx, msg, "e1", stderrors.New("boom"))
	assert.True(t, out.Spooled)
	assert.True(t, out.Deleted)

	healthy := &fakeSender{}
	n, err := Replay(ctx, j, healthy, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, healthy.bodies, 1)
	assert.Equal(t, msg.Body, healthy.bodies[0])
	assert.Equal(t, "boom", healthy.attrs[0][AttrFailureReason])

	n, err = Replay(ctx, j, healthy, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "replayed bodies are not sent twice")
}

func TestReplayStopsAtFirstFailure(t *testing.T) {
	j, err := journal.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Spool(t.Context(), "e1", journal.SpoolRecord{Body: []byte("a")})
	require.NoError(t, err)

	n, err := Replay(t.Context(), j, &fakeSender{err: stderrors.New("still down")}, nil)
	require.Error(t, err)
	assert.Zero(t, n)

	pending, err := j.PendingSpool(t.Context())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRouteJournalsForward(t *testing.T) {
	j, err := journal.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	r := NewRouter(&fakeStatus{}, &fakeDeleter{}, WithDestination(&fakeSender{}), WithJournal(j))
	r.Route(t.Context(), message(), "e1", stderrors.New("boom"))

	entries, err := j.ByEvent(t.Context(), "e1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.TypeDeadLetterForwarded, entries[0].Type)
	assert.JSONEq(t, `{"dead_letter_message_id":"dlq-1","reason":"boom"}`, string(entries[0].Data))
}
