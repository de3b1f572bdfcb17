// audio/queue_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package audio

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

type testJob struct {
	file   string
	length int
	played chan string
}

func (j *testJob) AudioFile() string { return j.file }
func (j *testJob) AudioLength() int  { return j.length }
func (j *testJob) WavePlayed()       { j.played <- j.file }

type testPlayer struct {
	mu      sync.Mutex
	started []string
	stopped []string
	bad     map[string]bool
}

func (p *testPlayer) Play(path string) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bad[path] {
		return nil, errors.New("unplayable")
	}
	p.started = append(p.started, path)
	return func() {
		p.mu.Lock()
		p.stopped = append(p.stopped, path)
		p.mu.Unlock()
	}, nil
}

func (p *testPlayer) Started() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.started)
}

func makeTestQueue(p Player) *Queue {
	q := NewQueue(p, nil)
	q.second = 10 * time.Millisecond
	return q
}

func expectPlayed(t *testing.T, played chan string, file string) {
	t.Helper()
	select {
	case f := <-played:
		if f != file {
			t.Errorf("expected %q to complete, got %q", file, f)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", file)
	}
}

func TestQueueDisabledCompletesImmediately(t *testing.T) {
	p := &testPlayer{}
	q := makeTestQueue(p)
	defer q.Close()

	played := make(chan string, 1)
	q.Enqueue(&testJob{file: "a.mp3", length: 100, played: played})

	select {
	case f := <-played:
		if f != "a.mp3" {
			t.Errorf("unexpected completion %q", f)
		}
	default:
		t.Fatalf("job not completed synchronously while disabled")
	}
	if len(q.Pending()) != 0 || len(p.Started()) != 0 {
		t.Errorf("disabled queue queued or played the job")
	}
}

func TestQueuePlaysInOrder(t *testing.T) {
	p := &testPlayer{}
	q := makeTestQueue(p)
	defer q.Close()

	played := make(chan string, 3)
	q.SetEnabled(true)
	for _, f := range []string{"1.mp3", "2.mp3", "3.mp3"} {
		q.Enqueue(&testJob{file: f, length: 2, played: played})
	}

	for _, f := range []string{"1.mp3", "2.mp3", "3.mp3"} {
		expectPlayed(t, played, f)
	}
	if s := p.Started(); !slices.Equal(s, []string{"1.mp3", "2.mp3", "3.mp3"}) {
		t.Errorf("unexpected playback order %v", s)
	}
}

func TestQueueUnplayableFailsOpen(t *testing.T) {
	p := &testPlayer{bad: map[string]bool{"missing.mp3": true}}
	q := makeTestQueue(p)
	defer q.Close()

	played := make(chan string, 2)
	q.SetEnabled(true)
	q.Enqueue(&testJob{file: "missing.mp3", length: 30, played: played})
	q.Enqueue(&testJob{file: "ok.mp3", length: 1, played: played})

	expectPlayed(t, played, "missing.mp3")
	expectPlayed(t, played, "ok.mp3")
}

func TestQueueDisableRequeuesInFlight(t *testing.T) {
	p := &testPlayer{}
	q := makeTestQueue(p)
	defer q.Close()

	played := make(chan string, 2)
	q.SetEnabled(true)
	// Long enough that it won't finish while the test is checking state.
	q.Enqueue(&testJob{file: "long.mp3", length: 200, played: played})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if f, ok := q.Playing(); ok && f == "long.mp3" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cue never started playing")
		}
		time.Sleep(time.Millisecond)
	}
	q.Enqueue(&testJob{file: "next.mp3", length: 1, played: played})

	q.SetEnabled(false)
	if _, ok := q.Playing(); ok {
		t.Errorf("cue still playing after disable")
	}
	if pend := q.Pending(); !slices.Equal(pend, []string{"long.mp3", "next.mp3"}) {
		t.Errorf("expected interrupted cue at the front, got %v", pend)
	}
	select {
	case f := <-played:
		t.Errorf("interrupted cue %q was completed", f)
	default:
	}

	// Shorten the wait for the replay.
	q.mu.Lock()
	q.second = time.Millisecond
	q.mu.Unlock()

	q.SetEnabled(true)
	expectPlayed(t, played, "long.mp3")
	expectPlayed(t, played, "next.mp3")

	if s := p.Started(); !slices.Equal(s, []string{"long.mp3", "long.mp3", "next.mp3"}) {
		t.Errorf("unexpected playback sequence %v", s)
	}
}

// slowPlayer blocks in Play until release is closed, as a large file
// would while it is decoded.
type slowPlayer struct {
	testPlayer
	loading chan string
	release chan struct{}
}

func (p *slowPlayer) Play(path string) (func(), error) {
	p.loading <- path
	<-p.release
	return p.testPlayer.Play(path)
}

func TestQueueLoadDoesNotBlock(t *testing.T) {
	p := &slowPlayer{loading: make(chan string, 4), release: make(chan struct{})}
	q := makeTestQueue(p)
	defer q.Close()

	played := make(chan string, 2)
	q.SetEnabled(true)
	q.Enqueue(&testJob{file: "big.mp3", length: 1, played: played})

	select {
	case <-p.loading:
	case <-time.After(5 * time.Second):
		t.Fatalf("cue never started loading")
	}

	returned := make(chan struct{})
	go func() {
		q.Enqueue(&testJob{file: "next.mp3", length: 1, played: played})
		q.SetEnabled(false)
		q.Pending()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatalf("queue locked while a cue was loading")
	}

	// Disabled while loading: the cue goes back to the front unplayed.
	close(p.release)
	deadline := time.Now().Add(5 * time.Second)
	for !slices.Equal(q.Pending(), []string{"big.mp3", "next.mp3"}) {
		if time.Now().After(deadline) {
			t.Fatalf("expected loading cue to be requeued, got %v", q.Pending())
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := q.Playing(); ok {
		t.Errorf("cue playing while disabled")
	}
	select {
	case f := <-played:
		t.Errorf("interrupted cue %q was completed", f)
	default:
	}

	q.SetEnabled(true)
	expectPlayed(t, played, "big.mp3")
	expectPlayed(t, played, "next.mp3")
}

func TestQueueDequeueAllWhileLoading(t *testing.T) {
	p := &slowPlayer{loading: make(chan string, 1), release: make(chan struct{})}
	q := makeTestQueue(p)
	defer q.Close()

	played := make(chan string, 1)
	q.SetEnabled(true)
	q.Enqueue(&testJob{file: "big.mp3", length: 1, played: played})
	<-p.loading

	q.DequeueAll()
	close(p.release)

	time.Sleep(50 * time.Millisecond)
	if _, ok := q.Playing(); ok {
		t.Errorf("cue played after DequeueAll")
	}
	if len(q.Pending()) != 0 {
		t.Errorf("cue requeued after DequeueAll: %v", q.Pending())
	}
	select {
	case f := <-played:
		t.Errorf("dropped cue %q was completed", f)
	default:
	}
}

func TestQueueDequeueAll(t *testing.T) {
	q := makeTestQueue(&testPlayer{})
	defer q.Close()

	played := make(chan string, 2)
	q.SetEnabled(true)
	q.SetEnabled(false)
	q.mu.Lock()
	q.jobs = append(q.jobs, &testJob{file: "a.mp3", length: 1, played: played},
		&testJob{file: "b.mp3", length: 1, played: played})
	q.mu.Unlock()

	q.DequeueAll()
	if len(q.Pending()) != 0 {
		t.Errorf("DequeueAll left jobs")
	}
	if q.Enabled() {
		t.Errorf("expected disabled")
	}
}

func TestMP3PlayerErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "garbage.mp3"), []byte("not an mp3 file"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewMP3Player(dir, nil, nil)
	if _, err := p.Play("nonexistent.mp3"); err == nil {
		t.Errorf("expected error for a missing file")
	}
	if _, err := p.Play("garbage.mp3"); err == nil {
		t.Errorf("expected error for a file that isn't mp3")
	}
}

func TestClipDuration(t *testing.T) {
	c := Clip{PCM: make([]byte, 2*2*22050), SampleRate: 11025, Channels: 2}
	if d := c.Duration(); d != 2*time.Second {
		t.Errorf("expected 2s, got %s", d)
	}
	if d := (Clip{}).Duration(); d != 0 {
		t.Errorf("expected 0 for an empty clip, got %s", d)
	}
}
