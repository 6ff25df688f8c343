package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(multiple bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(multiple, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDecodeReplyJob(t *testing.T) {
	body, err := EncodeReplyJob(ReplyJob{JobID: "01J", SessionID: "s1", Attempt: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := DecodeReplyJob(body)
	if err != nil || m.JobID != "01J" || m.SessionID != "s1" || m.Attempt != 2 {
		t.Fatalf("unexpected decode %+v err=%v", m, err)
	}
	if _, err := DecodeReplyJob([]byte(`{}`)); !errors.Is(err, errMissingJobID) {
		t.Fatalf("expected missing job id error, got %v", err)
	}
	if _, err := DecodeReplyJob([]byte(`not json`)); err == nil {
		t.Fatalf("expected json error")
	}
}

type fakeRetrier struct {
	jobs   []ReplyJob
	delays []time.Duration
	err    error
}

func (f *fakeRetrier) PublishRetry(ctx context.Context, job ReplyJob, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.delays = append(f.delays, delay)
	return nil
}

func newDispatcher(r retrier) dispatcher {
	return dispatcher{logger: quietLogger(), retry: r, maxAttempts: 3, baseDelay: time.Second}
}

func TestDispatch_AckOnSuccess(t *testing.T) {
	ack := &fakeAck{}
	var got string
	newDispatcher(&fakeRetrier{}).dispatch(context.Background(), []byte(`{"job_id":"j1"}`), ack, func(ctx context.Context, job ReplyJob) error {
		got = job.JobID
		return nil
	})
	if got != "j1" || !ack.acked || ack.nacked {
		t.Fatalf("unexpected outcome got=%q ack=%+v", got, ack)
	}
}

func TestDispatch_RetriesTransientFailures(t *testing.T) {
	r := &fakeRetrier{}
	ack := &fakeAck{}
	newDispatcher(r).dispatch(context.Background(), []byte(`{"job_id":"j1","attempt":1}`), ack, func(ctx context.Context, job ReplyJob) error {
		return context.DeadlineExceeded
	})
	if !ack.acked || ack.nacked {
		t.Fatalf("expected ack after parking the retry, got %+v", ack)
	}
	if len(r.jobs) != 1 || r.jobs[0].JobID != "j1" || r.jobs[0].Attempt != 2 {
		t.Fatalf("unexpected retry %+v", r.jobs)
	}
	if r.delays[0] != 2*time.Second {
		t.Fatalf("expected backoff 2s, got %s", r.delays[0])
	}
}

func TestDispatch_DeadLettersFailures(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		err     error
		retrier *fakeRetrier
	}{
		{"permanent", `{"job_id":"j1"}`, Permanent(errors.New("nothing to reply")), &fakeRetrier{}},
		{"attempts exhausted", `{"job_id":"j1","attempt":2}`, errors.New("db down"), &fakeRetrier{}},
		{"retry publish fails", `{"job_id":"j1"}`, errors.New("db down"), &fakeRetrier{err: errors.New("broker down")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &fakeAck{}
			newDispatcher(tc.retrier).dispatch(context.Background(), []byte(tc.body), ack, func(ctx context.Context, job ReplyJob) error {
				return tc.err
			})
			if !ack.nacked || ack.requeued || ack.acked {
				t.Fatalf("expected nack without requeue, got %+v", ack)
			}
			if len(tc.retrier.jobs) != 0 {
				t.Fatalf("unexpected retry %+v", tc.retrier.jobs)
			}
		})
	}

	bad := &fakeAck{}
	newDispatcher(&fakeRetrier{}).dispatch(context.Background(), []byte(`garbage`), bad, func(ctx context.Context, job ReplyJob) error {
		t.Fatalf("handler must not run for bad messages")
		return nil
	})
	if !bad.nacked || bad.requeued {
		t.Fatalf("expected nack without requeue, got %+v", bad)
	}
}

func TestPermanentKeepsCause(t *testing.T) {
	cause := errors.New("session closed")
	err := Permanent(cause)
	if !IsPermanent(err) || !errors.Is(err, cause) {
		t.Fatalf("expected permanent error wrapping cause, got %v", err)
	}
	if IsPermanent(cause) || Permanent(nil) != nil {
		t.Fatalf("unexpected permanence")
	}
}

func TestExpiration(t *testing.T) {
	if got := expiration(1500 * time.Millisecond); got != "1500" {
		t.Fatalf("unexpected expiration %q", got)
	}
	if got := expiration(0); got != "1" {
		t.Fatalf("unexpected expiration %q", got)
	}
}
