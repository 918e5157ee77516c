package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/models"
)

const (
	defaultMaxRetries = 3
	popTimeout        = 2 * time.Second
	recordTimeout     = 10 * time.Second
)

// Recorder folds one finished collaborator call into the interaction log.
type Recorder interface {
	RecordAPICall(ctx context.Context, username, stage string, call models.APICall, at time.Time) error
}

// Pool applies queued api-call logs outside the request path. Jobs for the
// same (user, stage) always land on the same worker, so their calls are
// appended in the order they were queued.
type Pool struct {
	queue       Queue
	recorder    Recorder
	workerCount int
	log         *logger.Logger
	now         func() time.Time
	backoff     func(retry int) time.Duration

	shards  []chan models.APICallJob
	cancel  context.CancelFunc
	fetched chan struct{}
	wg      sync.WaitGroup
}

func NewPool(queue Queue, recorder Recorder, workerCount int, log *logger.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		queue:       queue,
		recorder:    recorder,
		workerCount: workerCount,
		log:         log,
		now:         time.Now,
		backoff: func(retry int) time.Duration {
			return time.Duration(1<<uint(retry)) * time.Second
		},
	}
}

// LogAPICall queues a call for recording. It never touches the store.
func (p *Pool) LogAPICall(ctx context.Context, username, stage string, call models.APICall) error {
	job := models.APICallJob{
		ID:         uuid.New(),
		Username:   username,
		Stage:      stage,
		Call:       call,
		MaxRetries: defaultMaxRetries,
		EnqueuedAt: p.now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode api call job: %w", err)
	}
	if err := p.queue.Push(ctx, data); err != nil {
		return fmt.Errorf("enqueue api call job: %w", err)
	}
	return nil
}

func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.fetched = make(chan struct{})
	p.shards = make([]chan models.APICallJob, p.workerCount)
	for i := range p.shards {
		p.shards[i] = make(chan models.APICallJob, 64)
		p.wg.Add(1)
		go p.worker(i, p.shards[i])
	}
	go p.fetch(ctx)
	p.log.Info("Started api-call workers", "count", p.workerCount)
}

// Stop stops fetching, lets every worker finish the jobs it already holds
// (including their pending retries) and waits for them.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.fetched
	for _, shard := range p.shards {
		close(shard)
	}
	p.wg.Wait()
	p.log.Info("Api-call workers stopped")
}

func (p *Pool) fetch(ctx context.Context) {
	defer close(p.fetched)
	for {
		if ctx.Err() != nil {
			return
		}
		data, err := p.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("Queue pop failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if data == nil {
			continue
		}

		var job models.APICallJob
		if err := json.Unmarshal(data, &job); err != nil {
			p.log.Error("Dropping malformed api call job", "error", err)
			continue
		}
		shard := p.shards[shardFor(job.Username, job.Stage, len(p.shards))]
		select {
		case shard <- job:
		case <-ctx.Done():
			// Put it back for the next process.
			pushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := p.queue.Push(pushCtx, data); err != nil {
				p.log.Error("Lost api call job on shutdown", "job_id", job.ID, "error", err)
			}
			cancel()
			return
		}
	}
}

func shardFor(username, stage string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(username + "|" + stage))
	return int(h.Sum32() % uint32(n))
}

func (p *Pool) worker(id int, jobs <-chan models.APICallJob) {
	defer p.wg.Done()
	for job := range jobs {
		p.process(id, job)
	}
	p.log.Debug("Worker shutting down", "worker", id)
}

// process retries a failing job in place so later jobs on the shard, which
// share its (user, stage) key, never overtake it.
func (p *Pool) process(id int, job models.APICallJob) {
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	for {
		err := p.record(job)
		if err == nil {
			p.log.Debug("Api call recorded", "worker", id, "job_id", job.ID, "user_id", job.Username, "stage", job.Stage)
			return
		}

		var retryable interface{ Retryable() bool }
		if !errors.As(err, &retryable) || !retryable.Retryable() {
			p.log.Error("Api call job failed permanently", "job_id", job.ID, "user_id", job.Username, "error", err)
			return
		}
		job.RetryCount++
		if job.RetryCount >= maxRetries {
			p.log.Error("Api call job failed permanently", "job_id", job.ID, "user_id", job.Username, "attempts", job.RetryCount, "error", err)
			return
		}
		p.log.Warn("Api call job failed, retrying", "job_id", job.ID, "attempt", job.RetryCount, "error", err)
		time.Sleep(p.backoff(job.RetryCount))
	}
}

// record applies the job stamped with the time it was queued, so the
// append window is measured between calls rather than between applies.
func (p *Pool) record(job models.APICallJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	return p.recorder.RecordAPICall(ctx, job.Username, job.Stage, job.Call, job.EnqueuedAt)
}
