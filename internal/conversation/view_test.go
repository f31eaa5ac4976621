package conversation

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vovakirdan/roamchat/internal/conversation/mocks"
	"github.com/vovakirdan/roamchat/internal/timeline"
	"github.com/vovakirdan/roamchat/internal/utils"
)

var start = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// wait blocks until every delivery goroutine has finished.
func (v *View) wait() {
	v.wg.Wait()
}

func newTestView(t *testing.T) (*View, *mocks.MockRemote, *clock.Mock) {
	t.Helper()

	ctrl := gomock.NewController(t)
	remote := mocks.NewMockRemote(ctrl)
	clk := clock.NewMock()
	clk.Set(start)

	v := New("chat-1", remote, Options{
		ViewerID:      "alice",
		SendTimeout:   15 * time.Second,
		RetractWindow: 2 * time.Minute,
		Location:      time.UTC,
		Clock:         clk,
	})
	t.Cleanup(v.Close)
	return v, remote, clk
}

func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("expected event kind %v not received", kind)
		}
	}
}

// stored mimics the store's answer: a new id, its own timestamp, status sent.
func stored(draft timeline.Message, id string) timeline.Message {
	out := draft
	out.ID = id
	out.Timestamp = draft.Timestamp.Add(1500 * time.Millisecond)
	out.Status = timeline.StatusSent
	return out
}

func incoming(id, sender string, ts time.Time) timeline.Message {
	return timeline.Message{
		ID:        id,
		ChatID:    "chat-1",
		SenderID:  sender,
		Content:   "content of " + id,
		Type:      timeline.TypeText,
		Timestamp: ts,
		Status:    timeline.StatusSent,
	}
}

func sendConfirmed(t *testing.T, v *View, remote *mocks.MockRemote, id string) timeline.Message {
	t.Helper()

	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, draft timeline.Message) (timeline.Message, error) {
			return stored(draft, id), nil
		})
	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)
	ev := mustEvent(t, v.Events(), EventConfirmed)
	require.Equal(t, id, ev.MessageID)
	require.Equal(t, msg.ID, ev.PreviousID)

	confirmed, ok := v.Message(id)
	require.True(t, ok)
	return confirmed
}

func TestSendIsVisibleBeforeStoreAnswers(t *testing.T) {
	v, remote, _ := newTestView(t)

	release := make(chan struct{})
	var draft timeline.Message
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			draft = d
			<-release
			return stored(d, "srv-1"), nil
		})

	msg, err := v.Send("hello", "")
	require.NoError(t, err)
	assert.True(t, utils.IsProvisional(msg.ID))
	assert.Equal(t, timeline.Self, msg.SenderID)
	assert.Equal(t, timeline.TypeText, msg.Type)
	assert.Equal(t, start, msg.Timestamp)

	got, ok := v.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, timeline.StatusSending, got.Status)
	mustEvent(t, v.Events(), EventAppended)

	close(release)
	mustEvent(t, v.Events(), EventConfirmed)

	assert.Equal(t, msg.ID, draft.ID, "provisional id is the idempotency key")
	assert.Equal(t, "alice", draft.SenderID, "store sees the real viewer id")

	confirmed, ok := v.Message("srv-1")
	require.True(t, ok)
	assert.Equal(t, timeline.StatusSent, confirmed.Status)
	assert.Equal(t, timeline.Self, confirmed.SenderID)
	assert.Equal(t, start, confirmed.Timestamp, "local timestamp is kept")
	_, ok = v.Message(msg.ID)
	assert.False(t, ok)
}

func TestSendRejectsInvalidInput(t *testing.T) {
	v, _, _ := newTestView(t)

	_, err := v.Send("", timeline.TypeText)
	assert.ErrorIs(t, err, timeline.ErrEmptyContent)

	_, err = v.Send("joined", timeline.TypeSystem)
	assert.ErrorIs(t, err, ErrSystemMessage)

	_, err = v.Send("x", timeline.Type("sticker"))
	assert.ErrorIs(t, err, timeline.ErrInvalidType)

	assert.Empty(t, v.Messages())
}

func TestConfirmKeepsTimelineLayout(t *testing.T) {
	v, remote, _ := newTestView(t)
	require.NoError(t, v.Load([]timeline.Message{
		incoming("m1", "bob", start.Add(-time.Minute)),
	}))

	release := make(chan struct{})
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			<-release
			return stored(d, "srv-2"), nil
		})
	msg, err := v.Send("on my way", timeline.TypeText)
	require.NoError(t, err)
	before := v.Timeline()

	close(release)
	mustEvent(t, v.Events(), EventConfirmed)
	after := v.Timeline()

	require.Len(t, after, len(before))
	require.Len(t, after[0].Entries, len(before[0].Entries))
	for i := range before[0].Entries {
		b, a := before[0].Entries[i], after[0].Entries[i]
		assert.Equal(t, b.IsRunStart, a.IsRunStart)
		assert.Equal(t, b.IsRunEnd, a.IsRunEnd)
		assert.Equal(t, b.Message.SenderID, a.Message.SenderID)
		assert.Equal(t, b.Message.Timestamp, a.Message.Timestamp)
	}
	assert.Equal(t, msg.ID, before[0].Entries[1].Message.ID)
	assert.Equal(t, "srv-2", after[0].Entries[1].Message.ID)
}

func TestSendFailureKeepsMessageInPlace(t *testing.T) {
	v, remote, _ := newTestView(t)
	require.NoError(t, v.Load([]timeline.Message{
		incoming("m1", "bob", start.Add(-time.Minute)),
	}))

	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		Return(timeline.Message{}, errors.New("offline"))

	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)

	ev := mustEvent(t, v.Events(), EventFailed)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.EqualError(t, ev.Err, "offline")

	messages := v.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, msg.ID, messages[1].ID)
	assert.Equal(t, timeline.StatusFailed, messages[1].Status)

	buckets := v.Timeline()
	require.Len(t, buckets, 1)
	entry := buckets[0].Entries[1]
	assert.True(t, entry.IsRunStart)
	assert.True(t, entry.IsRunEnd)
}

func TestSendTimesOut(t *testing.T) {
	v, remote, clk := newTestView(t)

	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ timeline.Message) (timeline.Message, error) {
			<-ctx.Done()
			return timeline.Message{}, ctx.Err()
		})

	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)

	clk.Add(14 * time.Second)
	got, _ := v.Message(msg.ID)
	assert.Equal(t, timeline.StatusSending, got.Status)

	clk.Add(time.Second)
	ev := mustEvent(t, v.Events(), EventFailed)
	assert.ErrorIs(t, ev.Err, context.DeadlineExceeded)

	got, _ = v.Message(msg.ID)
	assert.Equal(t, timeline.StatusFailed, got.Status)
}

func TestRetryReusesProvisionalID(t *testing.T) {
	v, remote, _ := newTestView(t)

	var drafts []string
	first := remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			drafts = append(drafts, d.ID)
			return timeline.Message{}, errors.New("offline")
		})
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			drafts = append(drafts, d.ID)
			return stored(d, "srv-1"), nil
		}).After(first)

	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Retry(msg.ID), ErrNotFailed)

	mustEvent(t, v.Events(), EventFailed)
	require.NoError(t, v.Retry(msg.ID))
	got, _ := v.Message(msg.ID)
	assert.Equal(t, timeline.StatusSending, got.Status)

	mustEvent(t, v.Events(), EventConfirmed)
	assert.Equal(t, []string{msg.ID, msg.ID}, drafts)
	assert.Len(t, v.Messages(), 1)

	assert.ErrorIs(t, v.Retry("nope"), ErrUnknownMessage)
}

func TestDiscardRemovesFailedMessage(t *testing.T) {
	v, remote, _ := newTestView(t)

	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		Return(timeline.Message{}, errors.New("rejected"))
	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)
	mustEvent(t, v.Events(), EventFailed)

	require.NoError(t, v.Discard(msg.ID))
	mustEvent(t, v.Events(), EventRemoved)
	assert.Empty(t, v.Messages())
	assert.ErrorIs(t, v.Discard(msg.ID), ErrUnknownMessage)
}

func TestConcurrentSendsCompleteIndependently(t *testing.T) {
	v, remote, clk := newTestView(t)

	release := make(chan struct{})
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			if d.Content == "first" {
				<-release
				return stored(d, "srv-1"), nil
			}
			return stored(d, "srv-2"), nil
		}).Times(2)

	first, err := v.Send("first", timeline.TypeText)
	require.NoError(t, err)
	clk.Add(time.Second)
	_, err = v.Send("second", timeline.TypeText)
	require.NoError(t, err)

	ev := mustEvent(t, v.Events(), EventConfirmed)
	assert.Equal(t, "srv-2", ev.MessageID)

	messages := v.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, first.ID, messages[0].ID)
	assert.Equal(t, timeline.StatusSending, messages[0].Status)
	assert.Equal(t, "srv-2", messages[1].ID)

	close(release)
	ev = mustEvent(t, v.Events(), EventConfirmed)
	assert.Equal(t, "srv-1", ev.MessageID)
	assert.Equal(t, []string{"srv-1", "srv-2"}, []string{v.Messages()[0].ID, v.Messages()[1].ID})
}

func TestRetractWaitsForStore(t *testing.T) {
	v, remote, _ := newTestView(t)
	msg := sendConfirmed(t, v, remote, "srv-1")

	release := make(chan error)
	remote.EXPECT().RetractMessage(gomock.Any(), "chat-1", "srv-1").
		DoAndReturn(func(context.Context, string, string) error {
			return <-release
		})

	done := make(chan error, 1)
	go func() { done <- v.Retract(context.Background(), msg.ID) }()

	mustEvent(t, v.Events(), EventRetracting)
	got, ok := v.Message("srv-1")
	require.True(t, ok, "message stays until the store agrees")
	assert.True(t, got.Retracting)
	assert.False(t, v.CanRetract("srv-1"))

	release <- nil
	require.NoError(t, <-done)
	mustEvent(t, v.Events(), EventRetracted)
	_, ok = v.Message("srv-1")
	assert.False(t, ok)
}

func TestRetractFailureRestoresMessage(t *testing.T) {
	v, remote, _ := newTestView(t)
	msg := sendConfirmed(t, v, remote, "srv-1")

	remote.EXPECT().RetractMessage(gomock.Any(), "chat-1", "srv-1").
		Return(errors.New("network down"))

	err := v.Retract(context.Background(), msg.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	mustEvent(t, v.Events(), EventRetractFailed)

	got, ok := v.Message("srv-1")
	require.True(t, ok)
	assert.False(t, got.Retracting)
	assert.Equal(t, msg, got)
	assert.True(t, v.CanRetract("srv-1"))
}

func TestRetractRules(t *testing.T) {
	v, remote, clk := newTestView(t)
	sendConfirmed(t, v, remote, "srv-1")
	require.True(t, v.ApplyIncoming(incoming("b1", "bob", start), ""))

	assert.ErrorIs(t, v.Retract(context.Background(), "b1"), ErrNotAuthor)
	assert.ErrorIs(t, v.Retract(context.Background(), "ghost"), ErrUnknownMessage)

	expiry, ok := v.RetractExpiry("srv-1")
	require.True(t, ok)
	assert.Equal(t, start.Add(2*time.Minute), expiry)

	clk.Add(2 * time.Minute)
	assert.True(t, v.CanRetract("srv-1"), "window is inclusive")

	clk.Add(time.Millisecond)
	mustEvent(t, v.Events(), EventRetractWindowClosed)
	assert.False(t, v.CanRetract("srv-1"))
	assert.ErrorIs(t, v.Retract(context.Background(), "srv-1"), ErrRetractWindowClosed)
}

func TestRetractRequiresConfirmation(t *testing.T) {
	v, remote, _ := newTestView(t)

	release := make(chan struct{})
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			<-release
			return stored(d, "srv-1"), nil
		})
	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)

	assert.ErrorIs(t, v.Retract(context.Background(), msg.ID), ErrNotConfirmed)
	close(release)
	mustEvent(t, v.Events(), EventConfirmed)
}

func TestCloseIgnoresLateCompletion(t *testing.T) {
	v, remote, _ := newTestView(t)

	release := make(chan struct{})
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			<-release
			return stored(d, "srv-1"), nil
		})
	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)

	v.Close()
	close(release)

	got, ok := v.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, timeline.StatusSending, got.Status)

	for range v.Events() {
	}
	_, err = v.Send("again", timeline.TypeText)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, v.ApplyIncoming(incoming("b1", "bob", start), ""))
	v.Close()
}

func TestApplyIncomingConfirmsPendingSend(t *testing.T) {
	v, remote, _ := newTestView(t)

	release := make(chan struct{})
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			<-release
			return stored(d, "srv-1"), nil
		})
	msg, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)

	pushed := incoming("srv-1", "alice", start.Add(time.Second))
	require.True(t, v.ApplyIncoming(pushed, msg.ID))
	ev := mustEvent(t, v.Events(), EventConfirmed)
	assert.Equal(t, msg.ID, ev.PreviousID)

	close(release)
	v.wait()

	messages := v.Messages()
	require.Len(t, messages, 1, "no duplicate after the acknowledgement")
	assert.Equal(t, "srv-1", messages[0].ID)
	assert.Equal(t, timeline.Self, messages[0].SenderID)
	assert.False(t, v.ApplyIncoming(pushed, ""), "duplicate push")
}

func TestApplyStatusIgnoresRegression(t *testing.T) {
	v, _, _ := newTestView(t)
	require.True(t, v.ApplyIncoming(incoming("b1", "bob", start), ""))

	assert.True(t, v.ApplyStatus("b1", timeline.StatusRead))
	assert.False(t, v.ApplyStatus("b1", timeline.StatusDelivered))
	assert.False(t, v.ApplyStatus("b1", timeline.StatusFailed))
	assert.False(t, v.ApplyStatus("ghost", timeline.StatusRead))

	got, _ := v.Message("b1")
	assert.Equal(t, timeline.StatusRead, got.Status)
}

func TestApplyRetractedRemovesMessage(t *testing.T) {
	v, _, _ := newTestView(t)
	require.True(t, v.ApplyIncoming(incoming("b1", "bob", start), ""))

	assert.True(t, v.ApplyRetracted("b1"))
	mustEvent(t, v.Events(), EventRemoved)
	assert.False(t, v.ApplyRetracted("b1"))
	assert.Empty(t, v.Timeline())
}

func TestLoadKeepsPendingSends(t *testing.T) {
	v, remote, _ := newTestView(t)

	release := make(chan struct{})
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			<-release
			return stored(d, "srv-9"), nil
		})
	msg, err := v.Send("pending", timeline.TypeText)
	require.NoError(t, err)

	require.NoError(t, v.Load([]timeline.Message{
		incoming("m2", "bob", start.Add(-time.Minute)),
		incoming("m1", "alice", start.Add(-2*time.Minute)),
	}))
	mustEvent(t, v.Events(), EventLoaded)

	messages := v.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"m1", "m2", msg.ID}, []string{messages[0].ID, messages[1].ID, messages[2].ID})
	assert.Equal(t, timeline.Self, messages[0].SenderID)

	err = v.Load([]timeline.Message{incoming("x", "bob", time.Time{})})
	assert.ErrorIs(t, err, timeline.ErrMissingTimestamp)

	close(release)
	mustEvent(t, v.Events(), EventConfirmed)
}

func TestFailedLoadKeepsExpiryTimers(t *testing.T) {
	v, remote, clk := newTestView(t)
	sendConfirmed(t, v, remote, "srv-1")

	err := v.Load([]timeline.Message{
		incoming("m1", "bob", start.Add(-time.Minute)),
		incoming("x", "bob", time.Time{}),
	})
	require.ErrorIs(t, err, timeline.ErrMissingTimestamp)
	require.Len(t, v.Messages(), 1, "failed load leaves the list alone")
	assert.True(t, v.CanRetract("srv-1"))

	clk.Add(3 * time.Minute)
	ev := mustEvent(t, v.Events(), EventRetractWindowClosed)
	assert.Equal(t, "srv-1", ev.MessageID)
	assert.False(t, v.CanRetract("srv-1"))
}

func TestCloseWaitsForDeliveries(t *testing.T) {
	ctrl := gomock.NewController(t)
	remote := mocks.NewMockRemote(ctrl)
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.DebugLevel)
	v := New("chat-1", remote, Options{ViewerID: "alice", SendTimeout: time.Minute, Logger: &logger})

	release := make(chan struct{})
	defer close(release)
	remote.EXPECT().SendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d timeline.Message) (timeline.Message, error) {
			<-release
			return stored(d, "srv-1"), nil
		}).MaxTimes(1)
	_, err := v.Send("hello", timeline.TypeText)
	require.NoError(t, err)

	// The remote never answers; Close must still return with the
	// delivery finished and its completion dropped.
	v.Close()
	assert.Contains(t, logs.String(), "ignoring send completion after close")
}

func TestEventsDropWhenConsumerLags(t *testing.T) {
	ctrl := gomock.NewController(t)
	v := New("chat-1", mocks.NewMockRemote(ctrl), Options{ViewerID: "alice", EventBuffer: 1})
	defer v.Close()

	require.True(t, v.ApplyIncoming(incoming("b1", "bob", start), ""))
	require.True(t, v.ApplyIncoming(incoming("b2", "bob", start.Add(time.Second)), ""))

	ev := <-v.Events()
	assert.Equal(t, "b1", ev.MessageID)
	assert.Len(t, v.Messages(), 2, "dropped events never lose state")
}
