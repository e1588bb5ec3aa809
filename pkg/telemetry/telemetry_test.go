package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubA()
	defer unsubB()

	hub.Publish(Event{Type: EventJobStarted, JobID: "job-1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventJobStarted, ev.Type)
			assert.Equal(t, "job-1", ev.JobID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, id := hub.SubscribeWithID()
	hub.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	hub.Unsubscribe(id)
	hub.Unsubscribe("sub-unknown")
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{Type: EventQuestionAnswered})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe()
	hub.Close()
	hub.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	hub.Publish(Event{Type: EventJobStarted})

	var nilHub *Hub
	nilHub.Publish(Event{Type: EventJobStarted})
	nilHub.Close()
}

func TestRecordEvent(t *testing.T) {
	completed := testutil.ToFloat64(metricInterviews.WithLabelValues("completed"))
	failed := testutil.ToFloat64(metricInterviews.WithLabelValues("failed"))
	answered := testutil.ToFloat64(metricQuestions.WithLabelValues("answered"))
	hits := testutil.ToFloat64(metricCacheLookups.WithLabelValues("hit"))
	retries := testutil.ToFloat64(metricModelRetries.WithLabelValues("RATE_LIMITED"))
	unknown := testutil.ToFloat64(metricModelRetries.WithLabelValues("unknown"))

	RecordEvent(Event{Type: EventInterviewStarted})
	RecordEvent(Event{Type: EventInterviewCompleted, Data: map[string]any{"duration_ms": int64(120)}})
	RecordEvent(Event{Type: EventInterviewStarted})
	RecordEvent(Event{Type: EventInterviewFailed})
	RecordEvent(Event{Type: EventQuestionAnswered, Data: map[string]any{"duration_ms": 12.5}})
	RecordEvent(Event{Type: EventCacheHit})
	RecordEvent(Event{Type: EventModelRetry, Data: map[string]any{"code": "RATE_LIMITED"}})
	RecordEvent(Event{Type: EventModelRetry})

	assert.Equal(t, completed+1, testutil.ToFloat64(metricInterviews.WithLabelValues("completed")))
	assert.Equal(t, failed+1, testutil.ToFloat64(metricInterviews.WithLabelValues("failed")))
	assert.Equal(t, answered+1, testutil.ToFloat64(metricQuestions.WithLabelValues("answered")))
	assert.Equal(t, hits+1, testutil.ToFloat64(metricCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, retries+1, testutil.ToFloat64(metricModelRetries.WithLabelValues("RATE_LIMITED")))
	assert.Equal(t, unknown+1, testutil.ToFloat64(metricModelRetries.WithLabelValues("unknown")))
}

func TestRecordMetricsConsumesHub(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := testutil.ToFloat64(metricJobsStarted)
	done := RecordMetrics(ctx, hub)

	// Published right away: the subscription exists once RecordMetrics returns.
	hub.Publish(Event{Type: EventJobStarted})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metricJobsStarted) == before+1
	}, time.Second, 5*time.Millisecond)

	hub.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordMetrics did not return after hub closed")
	}
}

func TestServerHealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(NewServer("127.0.0.1:0", nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	RecordEvent(Event{Type: EventCacheMiss})
	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "edsl_cache_lookups_total")

	events, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer events.Body.Close()
	assert.Equal(t, http.StatusNotFound, events.StatusCode)
}

func TestServerStreamsEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewServer("127.0.0.1:0", hub).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	hub.Publish(Event{Type: EventQuestionAnswered, Question: "q1"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: question.answered", lines[0])

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
	assert.Equal(t, "q1", ev.Question)
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	addr, err := s.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestTracerProviderWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("edsl-test", "dev", &buf)
	require.NoError(t, err)

	ctx := context.Background()
	_, span := tp.Tracer("test").Start(ctx, "job.run")
	span.End()

	require.NoError(t, tp.Shutdown(ctx))
	assert.Contains(t, buf.String(), "job.run")
	assert.Contains(t, buf.String(), "edsl-test")
}

func TestNATSForwarder(t *testing.T) {
	url := os.Getenv("EDSL_TEST_NATS_URL")
	if url == "" {
		t.Skip("EDSL_TEST_NATS_URL not set")
	}

	fwd, err := NewNATSForwarder(NATSConfig{URL: url, Subject: "edsl.test"}, nil)
	require.NoError(t, err)
	defer fwd.Close()

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	defer conn.Close()
	sub, err := conn.SubscribeSync("edsl.test.>")
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := fwd.Forward(ctx, hub)
	defer func() {
		cancel()
		<-done
	}()

	hub.Publish(Event{Type: EventInterviewCompleted, InterviewID: "iv-1"})

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "edsl.test.interview.completed", msg.Subject)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "iv-1", ev.InterviewID)
}

func TestNATSSubject(t *testing.T) {
	fwd := &NATSForwarder{subject: "edsl.jobs"}
	assert.Equal(t, "edsl.jobs.cache.hit", fwd.Subject(EventCacheHit))
}
