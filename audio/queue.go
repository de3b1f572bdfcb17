// audio/queue.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package audio

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mmp/cadsim/log"
)

// Job is an audio cue waiting to be played. WavePlayed is called exactly
// once when the cue is done, whether or not it actually played.
type Job interface {
	AudioFile() string
	AudioLength() int // seconds
	WavePlayed()
}

// Player starts playback of an audio file, returning a function that
// stops it early. An error means the file can't be played.
type Player interface {
	Play(path string) (stop func(), err error)
}

// Queue is a FIFO of audio cues with a single consumer that plays them
// one at a time. A cue occupies the consumer for its scripted length; its
// job is only completed once that time has passed, so incident events
// that carry audio aren't finalized until the recording would have
// finished playing.
type Queue struct {
	mu       sync.Mutex
	jobs     []Job
	enabled  bool
	current  *playback
	player   Player
	wake     chan struct{}
	done     chan struct{}
	lg       *log.Logger
	second   time.Duration
	closeOne sync.Once
	// generation is bumped by DequeueAll so that a cue that was being
	// loaded when the queue was cleared is dropped.
	generation int
}

type playback struct {
	job   Job
	stop  func()
	timer *time.Timer
	start time.Time
}

// NewQueue returns a Queue and starts its consumer. Audio is initially
// disabled.
func NewQueue(p Player, lg *log.Logger) *Queue {
	q := &Queue{
		player: p,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		lg:     lg,
		second: time.Second,
	}
	go q.run()
	return q
}

func (q *Queue) Close() {
	q.closeOne.Do(func() {
		q.SetEnabled(false)
		close(q.done)
	})
}

// Enqueue adds a cue to the end of the queue. If audio is disabled, the
// job is completed immediately instead, so that nothing waits on audio
// that will never play.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	if !q.enabled {
		q.mu.Unlock()
		q.lg.Debug("audio disabled; completing cue", slog.String("file", job.AudioFile()))
		job.WavePlayed()
		return
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	q.signal()
}

// SetEnabled turns the consumer on or off. When it is turned off, a cue
// that is playing is stopped and returned to the front of the queue
// without being completed; it is replayed from the start once audio is
// enabled again.
func (q *Queue) SetEnabled(enabled bool) {
	q.mu.Lock()
	q.enabled = enabled
	if !enabled && q.current != nil {
		p := q.current
		q.current = nil
		p.timer.Stop()
		p.stop()
		q.jobs = slices.Insert(q.jobs, 0, p.job)
		q.lg.Info("audio cue interrupted", slog.String("file", p.job.AudioFile()),
			slog.Duration("played", time.Since(p.start)))
	}
	q.mu.Unlock()

	if enabled {
		q.signal()
	}
}

func (q *Queue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// DequeueAll discards all of the queued cues; their jobs are not
// completed.
func (q *Queue) DequeueAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = nil
	q.generation++
}

// Pending returns the files of the cues waiting to be played, in order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var files []string
	for _, j := range q.jobs {
		files = append(files, j.AudioFile())
	}
	return files
}

// Playing returns the file of the cue currently playing, if any.
func (q *Queue) Playing() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return "", false
	}
	return q.current.job.AudioFile(), true
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.lg.CatchAndReportCrash()

	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for q.dispatch() {
		}
	}
}

// dispatch starts the next cue if the consumer is enabled and idle. It
// returns true if it should be called again right away.
func (q *Queue) dispatch() bool {
	q.mu.Lock()
	if !q.enabled || q.current != nil || len(q.jobs) == 0 {
		q.mu.Unlock()
		return false
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]

	if job.AudioLength() <= 0 {
		q.mu.Unlock()
		job.WavePlayed()
		return true
	}

	gen := q.generation
	q.mu.Unlock()

	// Loading decodes the whole file, so it's done without holding the
	// lock; Enqueue and SetEnabled may run in the meantime.
	stop, err := q.player.Play(job.AudioFile())
	if err != nil {
		q.lg.Warn("Unable to play audio file", slog.String("file", job.AudioFile()),
			slog.Any("error", err))
		job.WavePlayed()
		return true
	}

	q.mu.Lock()
	if q.generation != gen {
		q.mu.Unlock()
		stop()
		q.lg.Debug("audio cue dropped while loading", slog.String("file", job.AudioFile()))
		return true
	}
	if !q.enabled {
		q.jobs = slices.Insert(q.jobs, 0, job)
		q.mu.Unlock()
		stop()
		q.lg.Info("audio cue interrupted", slog.String("file", job.AudioFile()))
		return false
	}

	p := &playback{job: job, stop: stop, start: time.Now()}
	p.timer = time.AfterFunc(time.Duration(job.AudioLength())*q.second, func() { q.finished(p) })
	q.current = p
	q.mu.Unlock()

	q.lg.Debug("playing audio cue", slog.String("file", job.AudioFile()),
		slog.Int("length", job.AudioLength()))
	return false
}

func (q *Queue) finished(p *playback) {
	q.mu.Lock()
	if q.current != p {
		// Interrupted by SetEnabled(false); the job was requeued.
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.mu.Unlock()

	p.stop()
	p.job.WavePlayed()
	q.signal()
}

func (q *Queue) LogValue() slog.Value {
	q.mu.Lock()
	defer q.mu.Unlock()

	attrs := []slog.Attr{slog.Bool("enabled", q.enabled), slog.Int("queued", len(q.jobs))}
	if q.current != nil {
		attrs = append(attrs, slog.String("playing", q.current.job.AudioFile()))
	}
	return slog.GroupValue(attrs...)
}
