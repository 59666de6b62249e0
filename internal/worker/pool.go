// Package worker delivers account notices from a Redis list so request
// handlers never wait on SMTP.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueName   = "queue:account-notices"
	maxAttempts = 3
	popTimeout  = 5 * time.Second
)

const (
	NoticePasswordChanged = "password-changed"
	NoticePasswordReset   = "password-reset"
)

// Notice is one queued email about an account event.
type Notice struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a blocking FIFO of encoded notices.
type Queue interface {
	Push(ctx context.Context, payload []byte) error
	// Pop blocks up to timeout. It returns ErrEmpty when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

var (
	ErrEmpty       = errors.New("queue is empty")
	errUnknownKind = errors.New("unknown notice kind")
)

type Mailer interface {
	SendPasswordChangedEmail(to, name string) error
	SendPasswordResetNotice(to, name string) error
}

type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	return q.client.LPush(ctx, q.key, payload).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, ErrEmpty
	}
	return []byte(result[1]), nil
}

type Pool struct {
	queue       Queue
	mail        Mailer
	workerCount int
	retryDelay  func(attempt int) time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(queue Queue, mail Mailer, workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       queue,
		mail:        mail,
		workerCount: workerCount,
		retryDelay: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue stamps and queues a notice.
func (p *Pool) Enqueue(ctx context.Context, n Notice) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.EnqueuedAt.IsZero() {
		n.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}
	if err := p.queue.Push(ctx, payload); err != nil {
		return fmt.Errorf("failed to queue notice: %w", err)
	}
	return nil
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Info().Int("workers", p.workerCount).Str("queue", QueueName).Msg("notice workers started")
}

// Stop cancels blocked pops and waits for in-flight deliveries.
func (p *Pool) Stop() {
	p.stopOnce.Do(p.cancel)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		if p.ctx.Err() != nil {
			log.Debug().Int("worker", id).Msg("notice worker shutting down")
			return
		}

		payload, err := p.queue.Pop(p.ctx, popTimeout)
		if err != nil {
			if !errors.Is(err, ErrEmpty) && p.ctx.Err() == nil {
				log.Warn().Err(err).Int("worker", id).Msg("failed to pop notice")
				select {
				case <-p.ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}

		p.process(payload)
	}
}

func (p *Pool) process(payload []byte) {
	var n Notice
	if err := json.Unmarshal(payload, &n); err != nil {
		log.Error().Err(err).Msg("dropping malformed notice")
		return
	}

	err := p.deliver(n)
	if errors.Is(err, errUnknownKind) {
		log.Error().Err(err).Str("notice_id", n.ID.String()).Msg("dropping notice")
		return
	}
	if err != nil {
		p.handleFailure(n, err)
		return
	}
	log.Debug().Str("notice_id", n.ID.String()).Str("kind", n.Kind).Msg("notice delivered")
}

func (p *Pool) deliver(n Notice) error {
	switch n.Kind {
	case NoticePasswordChanged:
		return p.mail.SendPasswordChangedEmail(n.Email, n.FullName)
	case NoticePasswordReset:
		return p.mail.SendPasswordResetNotice(n.Email, n.FullName)
	default:
		return fmt.Errorf("%w: %s", errUnknownKind, n.Kind)
	}
}

func (p *Pool) handleFailure(n Notice, err error) {
	n.Attempts++
	logger := log.With().Str("notice_id", n.ID.String()).Str("kind", n.Kind).Int("attempt", n.Attempts).Logger()

	if n.Attempts >= maxAttempts {
		logger.Error().Err(err).Msg("notice failed permanently")
		return
	}

	logger.Warn().Err(err).Msg("notice failed, retrying")
	time.AfterFunc(p.retryDelay(n.Attempts), func() {
		if p.ctx.Err() != nil {
			return
		}
		if err := p.Enqueue(context.Background(), n); err != nil {
			logger.Error().Err(err).Msg("failed to requeue notice")
		}
	})
}
