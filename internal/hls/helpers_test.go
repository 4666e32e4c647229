package hls

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"hls-supervisor/internal/supervisor"
)

type testSegment struct {
	Sequence int64
	Duration float64
	Path     string
}

// livePlaylist renders segments (ordered by sequence) as an HLS media
// playlist. ended appends #EXT-X-ENDLIST.
func livePlaylist(segments []testSegment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	var mediaSequence int64
	if len(segments) > 0 {
		mediaSequence = segments[0].Sequence
	}
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(segments)))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence))

	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%.1f,\n", seg.Duration))
		b.WriteString(seg.Path)
		b.WriteString("\n")
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func targetDuration(segments []testSegment) int {
	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}

func segmentRange(first, count int64, dur float64) []testSegment {
	out := make([]testSegment, 0, count)
	for seq := first; seq < first+count; seq++ {
		out = append(out, testSegment{Sequence: seq, Duration: dur, Path: fmt.Sprintf("seg%d.ts", seq)})
	}
	return out
}

type playerError struct {
	kind  supervisor.ErrorKind
	fatal bool
	err   error
}

// recordedEvents implements supervisor.Events for engine tests.
type recordedEvents struct {
	mu        sync.Mutex
	parsed    int
	fragments int
	appended  int
	errors    []playerError
}

func (r *recordedEvents) ManifestParsed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsed++
}

func (r *recordedEvents) FragmentLoaded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragments++
}

func (r *recordedEvents) BufferAppended() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended++
}

func (r *recordedEvents) Error(kind supervisor.ErrorKind, fatal bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, playerError{kind: kind, fatal: fatal, err: err})
}

func (r *recordedEvents) counts() (parsed, fragments, appended int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parsed, r.fragments, r.appended
}

func (r *recordedEvents) lastError() (playerError, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return playerError{}, false
	}
	return r.errors[len(r.errors)-1], true
}
