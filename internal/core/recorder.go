package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/store"
)

// Recorder runs persistence jobs on a small worker pool so the hub never
// waits on the database. Durability is best effort: a failed or dropped job
// is logged and the already-delivered broadcast stands.
type Recorder struct {
	jobs chan recorderJob
	wg   sync.WaitGroup
	log  *zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
}

type recorderJob struct {
	name string
	run  func(context.Context) error
}

// NewRecorder constructs a recorder with the given queue capacity.
func NewRecorder(queueSize int, logger *zerolog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Recorder{
		jobs: make(chan recorderJob, queueSize),
		log:  logger,
	}
}

// Start launches the worker goroutines. Workers drain the queue and exit
// when it is closed, so in-flight writes finish during shutdown.
func (r *Recorder) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	r.startOnce.Do(func() {
		for i := 0; i < workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx)
		}
	})
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	for job := range r.jobs {
		if err := job.run(ctx); err != nil {
			r.log.Error().Err(err).Str("job", job.name).Msg("persistence job failed")
		}
	}
}

// enqueue submits a job, dropping it when the queue is saturated.
func (r *Recorder) enqueue(name string, run func(context.Context) error) {
	select {
	case r.jobs <- recorderJob{name: name, run: run}:
	default:
		r.log.Error().Str("job", name).Msg("persistence queue full, job dropped")
	}
}

// RecordTalk appends one talks row for a delivered message.
func (r *Recorder) RecordTalk(talkStore store.TalkStore, roomID, userID int64, text string, publishedAt time.Time) {
	r.enqueue("append_talk", func(ctx context.Context) error {
		_, err := talkStore.AppendTalk(ctx, roomID, userID, text, publishedAt)
		return err
	})
}

// RecordHostChange rewrites the persisted host pointer of a room.
func (r *Recorder) RecordHostChange(roomStore store.RoomStore, roomID, hostUserID int64) {
	r.enqueue("update_room_host", func(ctx context.Context) error {
		return roomStore.UpdateRoomHost(ctx, roomID, hostUserID)
	})
}

// Close stops accepting jobs and waits for the workers to drain the queue.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.jobs)
	})
	r.wg.Wait()
}
