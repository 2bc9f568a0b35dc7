package events

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSPublisherSubjectAndPayload(t *testing.T) {
	fake := &fakePublisher{}
	p := newNATSPublisher(fake, "acme.sessions.", nil)

	p.Append(Event{Sequence: 7, SessionID: "abc.def", Type: TypeChunkCompleted, Message: "rows 1-10"})

	if len(fake.subjects) != 1 || fake.subjects[0] != "acme.sessions.abc_def.chunk_completed" {
		t.Fatalf("unexpected subjects %v", fake.subjects)
	}
	var decoded Event
	if err := json.Unmarshal(fake.payloads[0], &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Sequence != 7 || decoded.Message != "rows 1-10" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestNATSPublisherDefaultsAndFailures(t *testing.T) {
	fake := &fakePublisher{err: errors.New("offline")}
	p := newNATSPublisher(fake, "  ", nil)
	if got := p.Subject(Event{Type: TypeStarted}); got != "sifter.sessions._.started" {
		t.Fatalf("unexpected subject %q", got)
	}
	p.Append(Event{SessionID: "s", Type: TypeStarted})

	var nilPub *NATSPublisher
	nilPub.Append(Event{})
	if err := nilPub.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestHubForwardsToNATSSink(t *testing.T) {
	fake := &fakePublisher{}
	hub := NewHub(8)
	hub.AddSink(newNATSPublisher(fake, "x", nil))
	hub.Publish(Event{SessionID: "s1", Type: TypeCompleted})
	if len(fake.subjects) != 1 || fake.subjects[0] != "x.s1.completed" {
		t.Fatalf("unexpected subjects %v", fake.subjects)
	}
}
