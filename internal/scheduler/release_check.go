package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"metal-detector/internal/common/logging"
	"metal-detector/internal/spotify"
)

// ReleaseCheckJobName is the name the release check is registered under
const ReleaseCheckJobName = "release-check"

// SeenRetention is how long a release is remembered after it last appeared
// in the catalog listing
const SeenRetention = 30 * 24 * time.Hour

// ReleaseSource lists the newest catalog releases
type ReleaseSource interface {
	NewReleases(ctx context.Context, limit int) ([]spotify.Album, error)
}

// ReleaseCheck polls the catalog for new releases and remembers which ones
// it has already reported
type ReleaseCheck struct {
	source ReleaseSource
	limit  int
	clock  clockwork.Clock

	mu        sync.RWMutex
	seen      map[string]time.Time
	latest    []spotify.Album
	checkedAt time.Time
}

// NewReleaseCheck creates the job; limit is the page size requested per run
func NewReleaseCheck(source ReleaseSource, limit int, clock clockwork.Clock) *ReleaseCheck {
	if limit <= 0 {
		limit = 50
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReleaseCheck{
		source: source,
		limit:  limit,
		clock:  clock,
		seen:   make(map[string]time.Time),
	}
}

// Run fetches new releases and logs the ones not seen before. Releases
// absent from the listing for longer than SeenRetention are forgotten.
func (j *ReleaseCheck) Run(ctx context.Context) error {
	albums, err := j.source.NewReleases(ctx, j.limit)
	if err != nil {
		return err
	}

	logger := logging.WithContext(ctx)
	now := j.clock.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	discovered := 0
	for _, album := range albums {
		_, known := j.seen[album.ID]
		j.seen[album.ID] = now
		if known {
			continue
		}
		discovered++

		artist := ""
		if len(album.Artists) > 0 {
			artist = album.Artists[0].Name
		}
		logger.Info("New release detected",
			logging.String("album_id", album.ID),
			logging.String("album", album.Name),
			logging.String("artist", artist),
			logging.String("release_date", album.ReleaseDate),
		)
	}

	forgotten := 0
	for id, lastSeen := range j.seen {
		if now.Sub(lastSeen) > SeenRetention {
			delete(j.seen, id)
			forgotten++
		}
	}

	j.latest = albums
	j.checkedAt = now

	logger.Info("Release check finished",
		logging.Int("fetched", len(albums)),
		logging.Int("new", discovered),
		logging.Int("forgotten", forgotten),
	)
	return nil
}

// Latest returns the releases fetched by the last successful run and when
// that run happened
func (j *ReleaseCheck) Latest() ([]spotify.Album, time.Time) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	albums := make([]spotify.Album, len(j.latest))
	copy(albums, j.latest)
	return albums, j.checkedAt
}

// Seen reports how many distinct releases have been observed
func (j *ReleaseCheck) Seen() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.seen)
}
