package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Job is one transaction submission. Submit runs under a context bounded by
// Deadline when one is set. Done is invoked exactly once from a worker
// goroutine with the final outcome.
type Job struct {
	Escrow   string
	Deadline time.Time
	Submit   func(ctx context.Context) (TxRef, error)
	Done     func(ref TxRef, err error)
}

var ErrQueueFull = errors.New("submission queue is full")

// Submitter is the bounded per-chain submission pool. One slow chain can
// never starve the others because each chain gets its own pool. Workers retry
// transient failures with exponential backoff until the job deadline, then
// poll the transaction to confirmation.
type Submitter struct {
	chain           ID
	client          Client
	jobs            chan Job
	workers         int
	confirmInterval time.Duration
	wg              sync.WaitGroup
}

func NewSubmitter(chain ID, client Client, workers, queueSize int) *Submitter {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Submitter{
		chain:           chain,
		client:          client,
		jobs:            make(chan Job, queueSize),
		workers:         workers,
		confirmInterval: 5 * time.Second,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (s *Submitter) Start(ctx context.Context) {
	for range s.workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.work(ctx)
		}()
	}
}

// Wait blocks until all workers have exited.
func (s *Submitter) Wait() {
	s.wg.Wait()
}

// Enqueue hands a job to the pool without blocking. Callers treat
// ErrQueueFull as transient and retry on the next scheduler pass.
func (s *Submitter) Enqueue(job Job) error {
	select {
	case s.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Submitter) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.run(ctx, job)
		}
	}
}

func (s *Submitter) run(ctx context.Context, job Job) {
	logger := log.WithField("chain", s.chain).WithField("escrow", job.Escrow)

	jobCtx := ctx
	if !job.Deadline.IsZero() {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithDeadline(ctx, job.Deadline)
		defer cancel()
	}

	ref, err := s.submit(jobCtx, job)
	if err != nil {
		logger.Errorf("Failed to submit transaction: %v", err)
		job.Done("", err)

		return
	}
	logger.WithField("tx", ref).Debug("Transaction submitted, awaiting confirmation")

	status, err := s.awaitConfirmation(jobCtx, ref)
	switch {
	case err != nil:
		job.Done(ref, err)
	case status == ConfirmationFailed:
		job.Done(ref, fmt.Errorf("transaction %s failed on chain", ref))
	default:
		job.Done(ref, nil)
	}
}

func (s *Submitter) submit(ctx context.Context, job Job) (TxRef, error) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	return backoff.RetryWithData(func() (TxRef, error) {
		ref, err := job.Submit(ctx)
		if err != nil && !IsTransient(err) {
			return "", backoff.Permanent(err)
		}

		return ref, err
	}, policy)
}

func (s *Submitter) awaitConfirmation(ctx context.Context, ref TxRef) (ConfirmationStatus, error) {
	ticker := time.NewTicker(s.confirmInterval)
	defer ticker.Stop()

	for {
		status, err := s.client.ConfirmationStatus(ctx, ref)
		if err == nil && status != ConfirmationPending {
			return status, nil
		}
		if err != nil && !IsTransient(err) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
