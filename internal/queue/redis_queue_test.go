package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"image-cache-service/internal/models"
)

func testQueue(t *testing.T, visibility time.Duration) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client, visibility), mr
}

func testMessage(imageID string) models.WorkMessage {
	return models.WorkMessage{
		JobID:           "j1",
		ImageID:         imageID,
		CollectionID:    "c1",
		SourcePath:      "/library/c1/" + imageID + ".jpg",
		DestinationPath: "/cache/c1/" + imageID + "_800x600.jpg",
		Width:           800,
		Height:          600,
		Quality:         85,
		Format:          "jpeg",
		Origin:          models.OriginSubmission,
	}
}

func TestPublishDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t, 30*time.Second)

	if err := q.Publish(ctx, testMessage("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, testMessage("b")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("depth = %d err = %v, want 2", depth, err)
	}

	d, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if d.Message.ImageID != "a" {
		t.Fatalf("dequeued %q, want a (FIFO)", d.Message.ImageID)
	}

	inflight, err := q.InFlight(ctx)
	if err != nil || inflight != 1 {
		t.Fatalf("inflight = %d err = %v, want 1", inflight, err)
	}

	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	inflight, _ = q.InFlight(ctx)
	if inflight != 0 {
		t.Fatalf("inflight after ack = %d, want 0", inflight)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q, _ := testQueue(t, time.Second)
	_, ok, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if ok {
		t.Fatal("dequeue on empty queue reported a message")
	}
}

func TestRequeueExpiredReturnsLapsedLeases(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t, 10*time.Millisecond)

	if err := q.Publish(ctx, testMessage("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, ok, err := q.Dequeue(ctx); err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}

	// Before the lease lapses nothing is reclaimed.
	if n, err := q.RequeueExpired(ctx, time.Now(), 10); err != nil || n != 0 {
		t.Fatalf("early requeue = %d err = %v, want 0", n, err)
	}

	// After the deadline the message returns to the ready list.
	n, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	if err != nil || n != 1 {
		t.Fatalf("requeue = %d err = %v, want 1", n, err)
	}
	d, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("redelivery dequeue: ok=%v err=%v", ok, err)
	}
	if d.Message.ImageID != "a" {
		t.Fatalf("redelivered %q, want a", d.Message.ImageID)
	}
}

func TestMessageSurvivesRoundTrip(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t, time.Minute)

	want := testMessage("a")
	want.ForceRegenerate = true
	want.Origin = models.OriginRecovery
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if d.Message != want {
		t.Fatalf("message = %+v, want %+v", d.Message, want)
	}
}
