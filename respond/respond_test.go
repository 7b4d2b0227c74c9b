package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestNewResult(t *testing.T) {
	t.Parallel()
	scores := []float32{0.25, 0.7, 0.05}
	r := NewResult(scores, []string{"apple", "pear"})

	want := []Category{{"apple", 0.25}, {"pear", 0.7}, {"2", 0.05}}
	if diff := cmp.Diff(want, r.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	if r.Top != "pear" || r.TopScore != 0.7 {
		t.Errorf("top = %s %v", r.Top, r.TopScore)
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		t.Errorf("id %q: %v", r.ID, err)
	}

	scores[1] = 0
	if r.Categories[1].Score != 0.7 {
		t.Error("result aliases the score buffer")
	}
}

func TestJSONResponder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	j := NewJSONResponder(&buf)
	ctx := context.Background()
	for _, s := range [][]float32{{0.9, 0.1}, {0.2, 0.8}} {
		if err := j.Respond(ctx, s, []string{"no fruit", "fruit"}); err != nil {
			t.Fatal(err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	ids := map[string]bool{}
	for i, want := range []string{"no fruit", "fruit"} {
		var r Result
		if err := json.Unmarshal([]byte(lines[i]), &r); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if r.Top != want {
			t.Errorf("line %d top = %q, want %q", i, r.Top, want)
		}
		ids[r.ID] = true
	}
	if len(ids) != 2 {
		t.Error("results share an id")
	}
}

func TestLogResponder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := LogResponder{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	if err := l.Respond(context.Background(), []float32{0.1, 0.9}, []string{"no fruit", "fruit"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, s := range []string{"msg=detection", "top=fruit", `"no fruit"=0.1`} {
		if !strings.Contains(out, s) {
			t.Errorf("log line missing %s:\n%s", s, out)
		}
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()
	errA, errB := errors.New("a"), errors.New("b")
	var calls int
	count := Func(func(context.Context, []float32, []string) error { calls++; return nil })
	fail := func(err error) Responder {
		return Func(func(context.Context, []float32, []string) error { return err })
	}

	err := Multi(fail(errA), count, fail(errB)).Respond(context.Background(), []float32{1}, nil)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("joined error = %v", err)
	}
	if calls != 1 {
		t.Errorf("later responder called %d times after a failure", calls)
	}
	if err := Multi(count, count).Respond(context.Background(), nil, nil); err != nil {
		t.Errorf("successful fan-out returned %v", err)
	}
}

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakePublisher struct {
	token    *fakeToken
	topics   []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return p.token
}

func TestMQTTResponder(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{token: &fakeToken{}}
	m := newMQTTResponder(pub, "edgeinfer/scores", 1, nil)
	ctx := context.Background()

	if err := m.Respond(ctx, []float32{0.3, 0.7}, []string{"no fruit", "fruit"}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "edgeinfer/scores" {
		t.Fatalf("topics = %v", pub.topics)
	}
	var r Result
	if err := json.Unmarshal(pub.payloads[0], &r); err != nil {
		t.Fatal(err)
	}
	if r.Top != "fruit" {
		t.Errorf("published top = %q", r.Top)
	}

	pub.token = &fakeToken{timedOut: true}
	if err := m.Respond(ctx, []float32{1, 0}, nil); err == nil {
		t.Error("timed out publish succeeded")
	}
	errBroker := errors.New("not authorized")
	pub.token = &fakeToken{err: errBroker}
	if err := m.Respond(ctx, []float32{1, 0}, nil); !errors.Is(err, errBroker) {
		t.Errorf("got %v, want broker error", err)
	}

	published, failures := m.Stats()
	if published != 1 || failures != 2 {
		t.Errorf("stats = %d published, %d failed", published, failures)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close without connection: %v", err)
	}
}

func TestNewMQTTResponderRequiresBroker(t *testing.T) {
	t.Parallel()
	if _, err := NewMQTTResponder(MQTTOptions{Topic: "t"}); err == nil {
		t.Error("missing broker accepted")
	}
}
