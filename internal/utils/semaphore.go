package utils

import "context"

// Semaphore は並列処理用のセマフォ
type Semaphore struct {
	sem chan struct{}
}

// NewSemaphore は新しいセマフォを作成 (max < 1 は 1 として扱う)
func NewSemaphore(max int) *Semaphore {
	if max < 1 {
		max = 1
	}
	return &Semaphore{
		sem: make(chan struct{}, max),
	}
}

// Acquire はセマフォを取得 (ctxが終了した場合はそのエラーを返す)
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release はセマフォを解放
func (s *Semaphore) Release() {
	<-s.sem
}

// Cap は同時に取得できる数を返す
func (s *Semaphore) Cap() int {
	return cap(s.sem)
}
