package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilkoid/vaultmind/pkg/utils"
)

// ErrInvalidRetryPolicy возвращается при невалидных параметрах RetryPolicy.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy - параметры повторов с экспоненциальной задержкой.
//
// Задержка перед повтором k (k с нуля): InitialBackoff * 2^k.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultRetryPolicy - 3 повтора: 500ms, 1s, 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: 500 * time.Millisecond}
}

// Validate проверяет MaxRetries >= 0 и InitialBackoff > 0.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidRetryPolicy, p.MaxRetries)
	}
	if p.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial backoff must be > 0, got %v", ErrInvalidRetryPolicy, p.InitialBackoff)
	}
	return nil
}

// Delay возвращает задержку перед повтором attempt (с нуля).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	return d
}

// SleepFunc ждёт d. Возвращает false если ожидание прервано
// отменой ctx или закрытием abort.
type SleepFunc func(ctx context.Context, d time.Duration, abort <-chan struct{}) bool

func sleep(ctx context.Context, d time.Duration, abort <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-abort:
		return false
	}
}

// RetryOption настраивает RetryClient.
type RetryOption func(*RetryClient)

// WithSleep подменяет функцию ожидания (для тестов).
func WithSleep(fn SleepFunc) RetryOption {
	return func(c *RetryClient) {
		c.sleep = fn
	}
}

// RetryClient - декоратор над Client с повтором временных ошибок.
//
// Реализует тот же контракт Client, поэтому прозрачен для оркестратора.
type RetryClient struct {
	inner  Client
	policy RetryPolicy
	sleep  SleepFunc
}

// NewRetryClient оборачивает inner. Policy валидируется при создании.
func NewRetryClient(inner Client, policy RetryPolicy, opts ...RetryOption) (*RetryClient, error) {
	if inner == nil {
		return nil, fmt.Errorf("retry client: inner client is nil")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	c := &RetryClient{
		inner:  inner,
		policy: policy,
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy возвращает политику повторов.
func (c *RetryClient) Policy() RetryPolicy {
	return c.policy
}

// Send выполняет запрос с повторами.
//
// После исчерпания попыток возвращается последняя ошибка без обёртки.
// Постоянные ошибки возвращаются сразу.
func (c *RetryClient) Send(ctx context.Context, req Request) (Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.inner.Send(ctx, req)
		if err == nil {
			return resp, nil
		}

		if !IsRetryable(err) || attempt >= c.policy.MaxRetries {
			if attempt > 0 {
				utils.Error("LLM request failed after retries",
					"attempts", attempt+1,
					"error", err)
			}
			return Response{}, err
		}

		delay := c.policy.Delay(attempt)
		utils.Warn("LLM request failed, retrying",
			"attempt", attempt+1,
			"max_retries", c.policy.MaxRetries,
			"delay", delay,
			"error", err)

		if !c.sleep(ctx, delay, nil) {
			return Response{}, ctx.Err()
		}
	}
}

// Stream запускает стрим с повторами.
//
// Повтор выполняется только если ни один чанк ещё не был передан
// вызывающему коду: ошибка создания стрима или обрыв до первого чанка.
// После первого доставленного чанка ошибка возвращается как есть,
// чтобы не дублировать уже показанный текст.
//
// Cancel() во время ожидания между попытками завершает стрим
// как отменённый без новой попытки.
func (c *RetryClient) Stream(ctx context.Context, req Request, onChunk func(StreamChunk)) (*Stream, error) {
	out := newStream()

	go func() {
		for attempt := 0; ; attempt++ {
			if out.Cancelled() {
				out.finish(Response{Cancelled: true}, nil)
				return
			}

			// Внутренний стрим может успеть накопить чанк, который внешний
			// handle уже не доставил. После отмены ответ собирается только
			// из доставленного. Колбэк выполняется в горутине внутреннего
			// стрима и завершается до возврата inner.Wait().
			var text, thought strings.Builder
			var resp Response
			inner, err := c.inner.Stream(ctx, req, func(chunk StreamChunk) {
				if out.Cancelled() {
					return
				}
				text.WriteString(chunk.Text)
				thought.WriteString(chunk.Thought)
				out.deliver(onChunk, chunk)
			})
			if err == nil {
				out.link(inner)
				resp, err = inner.Wait()
			}

			if err == nil {
				if out.Cancelled() {
					resp = Response{Text: text.String(), Thought: thought.String(), Cancelled: true}
				}
				out.finish(resp, nil)
				return
			}

			if out.Delivered() > 0 || !IsRetryable(err) || attempt >= c.policy.MaxRetries {
				out.finish(Response{}, err)
				return
			}

			delay := c.policy.Delay(attempt)
			utils.Warn("LLM stream failed before first chunk, retrying",
				"attempt", attempt+1,
				"max_retries", c.policy.MaxRetries,
				"delay", delay,
				"error", err)

			if !c.sleep(ctx, delay, out.abort) {
				out.finish(Response{Cancelled: true}, nil)
				return
			}
		}
	}()

	return out, nil
}

// Ensure RetryClient implements Client
var _ Client = (*RetryClient)(nil)
