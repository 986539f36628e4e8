// Package fetch downloads remote audio into the library through yt-dlp.
// Downloads run one at a time; finished files are probed and stored like any
// scanned track, tagged with the download source.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/klucsik/rpg-music-sub000/library"
)

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ErrQueueFull is returned when no more downloads can be queued.
var ErrQueueFull = errors.New("download queue is full")

const downloadTimeout = 10 * time.Minute

// Job is one download request and its outcome.
type Job struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	CollectionID string    `json:"collectionId,omitempty"`
	Status       Status    `json:"status"`
	Title        string    `json:"title,omitempty"`
	TrackID      string    `json:"trackId,omitempty"`
	Error        string    `json:"error,omitempty"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	FinishedAt   time.Time `json:"finishedAt,omitempty"`
}

// Library is the slice of the track store the queue needs.
type Library interface {
	UpsertTrack(t library.Track) (library.Track, error)
	AddToCollection(collectionID, trackID string) (library.Collection, error)
}

// Runner downloads url into dir and returns the path of the audio file it
// wrote.
type Runner func(ctx context.Context, url, dir string) (string, error)

// Queue accepts download requests and works through them serially.
type Queue struct {
	store  Library
	dir    string
	runner Runner
	probe  func(path string) (library.Track, error)

	// onCollectionsChanged fires when a finished download landed in a
	// collection.
	onCollectionsChanged func(ids []string)

	mu    sync.Mutex
	jobs  map[string]*Job
	order []string

	pending chan string
}

// NewQueue builds a download queue writing into dir, running the yt-dlp
// binary named by ytdlp.
func NewQueue(store Library, dir, ytdlp string, onCollectionsChanged func(ids []string)) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return &Queue{
		store:                store,
		dir:                  dir,
		runner:               ytdlpRunner(ytdlp),
		probe:                library.ProbeFile,
		onCollectionsChanged: onCollectionsChanged,
		jobs:                 make(map[string]*Job),
		pending:              make(chan string, 64),
	}, nil
}

// Enqueue adds a download. The optional collection id appends the finished
// track to that collection.
func (q *Queue) Enqueue(url, collectionID string) (Job, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Job{}, errors.New("url required")
	}
	job := &Job{
		ID:           uuid.NewString(),
		URL:          url,
		CollectionID: collectionID,
		Status:       StatusQueued,
		EnqueuedAt:   time.Now(),
	}

	q.mu.Lock()
	select {
	case q.pending <- job.ID:
	default:
		q.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	out := *job
	q.mu.Unlock()

	log.Info().Str("job", job.ID).Str("url", url).Msg("[fetch] download queued")
	return out, nil
}

// Job returns one job by id.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs lists all jobs, newest first.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		out = append(out, *q.jobs[q.order[i]])
	}
	return out
}

// Run works through queued downloads until the context ends.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.pending:
			q.process(ctx, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Status = StatusRunning
	url, collectionID := job.URL, job.CollectionID
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	path, err := q.runner(ctx, url, q.dir)
	if err != nil {
		q.fail(id, err)
		return
	}
	t, err := q.probe(path)
	if err != nil {
		q.fail(id, fmt.Errorf("probe download: %w", err))
		return
	}
	t.Source = library.SourceDownload
	stored, err := q.store.UpsertTrack(t)
	if err != nil {
		q.fail(id, err)
		return
	}

	var affected []string
	if collectionID != "" {
		if _, err := q.store.AddToCollection(collectionID, stored.ID); err != nil {
			q.mu.Lock()
			job.TrackID = stored.ID
			job.Title = stored.Title
			q.mu.Unlock()
			q.fail(id, fmt.Errorf("add to collection: %w", err))
			return
		}
		affected = append(affected, collectionID)
	}

	q.mu.Lock()
	job.Status = StatusDone
	job.TrackID = stored.ID
	job.Title = stored.Title
	job.FinishedAt = time.Now()
	q.mu.Unlock()

	log.Info().Str("job", id).Str("track", stored.ID).Str("title", stored.Title).Msg("[fetch] download complete")
	if len(affected) > 0 && q.onCollectionsChanged != nil {
		q.onCollectionsChanged(affected)
	}
}

func (q *Queue) fail(id string, err error) {
	q.mu.Lock()
	if job, ok := q.jobs[id]; ok {
		job.Status = StatusFailed
		job.Error = err.Error()
		job.FinishedAt = time.Now()
	}
	q.mu.Unlock()
	log.Warn().Err(err).Str("job", id).Msg("[fetch] download failed")
}

// ytdlpRunner shells out to yt-dlp, extracting audio as mp3 and printing the
// final file path.
func ytdlpRunner(bin string) Runner {
	return func(ctx context.Context, url, dir string) (string, error) {
		args := []string{
			"--no-playlist",
			"-x", "--audio-format", "mp3",
			"-o", filepath.Join(dir, "%(title)s.%(ext)s"),
			"--print", "after_move:filepath",
			"--no-simulate",
			url,
		}
		cmd := exec.CommandContext(ctx, bin, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if msg := lastLine(stderr.String()); msg != "" {
				return "", fmt.Errorf("yt-dlp: %s", msg)
			}
			return "", fmt.Errorf("yt-dlp: %w", err)
		}
		path := lastLine(stdout.String())
		if path == "" {
			return "", errors.New("yt-dlp reported no output file")
		}
		return path, nil
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
