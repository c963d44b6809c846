// Package archive replicates each task's final mixed output to a remote
// object store, asynchronously and best-effort, so a completed task's
// status is never gated on it. Grounded on the teacher's
// ingress/internal/infra/store/file/replicator package: same queue +
// worker-pool + retry-with-requeue shape, repurposed around task IDs
// instead of upload filenames.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/minio/minio-go/v7"
)

// Remote is the narrow object-storage contract the Archiver depends on.
type Remote interface {
	Save(ctx context.Context, reader io.Reader, objectName string, size int64) (int64, error)
}

// Job is one queued replication of a task's final output file.
type Job struct {
	TaskID    string
	LocalPath string
	Retries   int
}

// OnArchived is called after a job finishes, successfully or not, so the
// caller can record the resulting object name on the task (best effort:
// a failed callback is only logged, never retried).
type OnArchived func(taskID, objectName string, err error)

type Archiver struct {
	remote     Remote
	queue      chan Job
	maxRetries int
	onArchived OnArchived

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New builds an Archiver with a job queue of depth queueSize. It starts no
// workers: Start launches the background workers that drain the queue, and
// New does not use its workerNum argument. onArchived may be nil.
func New(remote Remote, queueSize, workerNum, maxRetries int, onArchived OnArchived) *Archiver {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if onArchived == nil {
		onArchived = func(string, string, error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Archiver{
		remote:     remote,
		queue:      make(chan Job, queueSize),
		maxRetries: maxRetries,
		onArchived: onArchived,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (a *Archiver) Start(ctx context.Context, workerNum int) {
	if workerNum <= 0 {
		workerNum = 2
	}

	a.mu.Lock()
	innerCtx, innerCancel := context.WithCancel(ctx)
	a.ctx = innerCtx
	a.cancel = innerCancel
	a.mu.Unlock()

	a.wg.Add(workerNum)
	for i := 0; i < workerNum; i++ {
		go a.worker(i)
	}
}

func (a *Archiver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.cancel()
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Enqueue submits taskID's final output for archival. Implements
// pipeline.Archiver. A full queue or a closed archiver just drops the
// job — archival is a convenience, not a correctness requirement.
func (a *Archiver) Enqueue(taskID, localPath string) {
	if a.remote == nil {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}

	select {
	case a.queue <- Job{TaskID: taskID, LocalPath: localPath}:
	default:
		slog.Warn("archive: queue full, dropping job", slog.String("task_id", taskID))
	}
}

func (a *Archiver) worker(id int) {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case job, ok := <-a.queue:
			if !ok {
				return
			}
			a.handle(a.ctx, job)
		}
	}
}

func (a *Archiver) handle(ctx context.Context, job Job) {
	objectName, err := a.replicateOnce(ctx, job)
	if err != nil {
		if job.Retries >= a.maxRetries {
			slog.Error("archive: replication failed, giving up",
				slog.String("task_id", job.TaskID), slog.String("error", err.Error()))
			a.onArchived(job.TaskID, "", err)
			return
		}

		job.Retries++
		select {
		case a.queue <- job:
			slog.Warn("archive: replication failed, requeued",
				slog.String("task_id", job.TaskID), slog.Int("next_retry", job.Retries))
		default:
			slog.Error("archive: replication failed and queue full, dropping",
				slog.String("task_id", job.TaskID))
			a.onArchived(job.TaskID, "", err)
		}
		return
	}

	a.onArchived(job.TaskID, objectName, nil)
}

func (a *Archiver) replicateOnce(ctx context.Context, job Job) (string, error) {
	f, err := os.Open(job.LocalPath)
	if err != nil {
		return "", fmt.Errorf("open local output: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat local output: %w", err)
	}

	objectName := job.TaskID + "/4_final_output.wav"
	written, err := a.remote.Save(ctx, f, objectName, info.Size())
	if err != nil {
		return "", fmt.Errorf("save to remote: %w", err)
	}
	if written <= 0 {
		return "", fmt.Errorf("remote save wrote zero bytes")
	}

	return objectName, nil
}

// minioRemote adapts a MinIO client to the Remote contract.
type minioRemote struct {
	client *minio.Client
	bucket string
}

// NewMinIORemote builds a Remote backed by the given bucket.
func NewMinIORemote(client *minio.Client, bucket string) Remote {
	return &minioRemote{client: client, bucket: bucket}
}

func (r *minioRemote) Save(ctx context.Context, reader io.Reader, objectName string, size int64) (int64, error) {
	info, err := r.client.PutObject(ctx, r.bucket, objectName, reader, size, minio.PutObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}
