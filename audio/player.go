// audio/player.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/util"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tosone/minimp3"
)

var ErrNoAudio = errors.New("no audio data")

// Clip is a decoded audio cue.
type Clip struct {
	Path       string
	PCM        []byte // 16-bit samples
	SampleRate int
	Channels   int
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	samples := len(c.PCM) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Sink is the audio output device. Start begins playing the clip and
// returns a function that stops it.
type Sink interface {
	Start(c Clip) (stop func())
}

// DiscardSink is used when the server has no audio device; cues still
// take their full length to play.
type DiscardSink struct{}

func (DiscardSink) Start(Clip) func() { return func() {} }

// MP3Player decodes MP3 cue files and plays them through a Sink. Decoded
// clips are cached since the same cues are replayed every time the
// simulation is reset.
type MP3Player struct {
	dir   string
	sink  Sink
	cache *expirable.LRU[string, Clip]
	lg    *log.Logger
}

func NewMP3Player(dir string, sink Sink, lg *log.Logger) *MP3Player {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &MP3Player{
		dir:   dir,
		sink:  sink,
		cache: expirable.NewLRU[string, Clip](64, nil, 4*time.Hour),
		lg:    lg,
	}
}

// Load returns the decoded clip for the given path, which is relative to
// the player's audio directory unless it is absolute.
func (p *MP3Player) Load(path string) (Clip, error) {
	if c, ok := p.cache.Get(path); ok {
		return c, nil
	}

	fn := path
	if !filepath.IsAbs(fn) {
		fn = filepath.Join(p.dir, fn)
	}

	r, err := util.OpenResource(fn)
	if err != nil {
		return Clip{}, err
	}
	defer r.Close()

	mp3, err := io.ReadAll(r)
	if err != nil {
		return Clip{}, err
	}

	dec, pcm, err := minimp3.DecodeFull(mp3)
	if err != nil {
		return Clip{}, fmt.Errorf("%s: unable to decode mp3: %w", path, err)
	} else if len(pcm) == 0 || dec.SampleRate == 0 {
		return Clip{}, fmt.Errorf("%s: %w", path, ErrNoAudio)
	}

	c := Clip{Path: path, PCM: pcm, SampleRate: dec.SampleRate, Channels: dec.Channels}
	p.lg.Debug("decoded audio cue", slog.String("path", path),
		slog.Duration("duration", c.Duration()), slog.Int("sample_rate", c.SampleRate))
	p.cache.Add(path, c)

	return c, nil
}

func (p *MP3Player) Play(path string) (func(), error) {
	c, err := p.Load(path)
	if err != nil {
		return nil, err
	}
	return p.sink.Start(c), nil
}
