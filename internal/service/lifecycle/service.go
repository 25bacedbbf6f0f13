// Package lifecycle drives issues through open → closed → published and
// tracks the book each closed issue produces. Every mutation re-reads state
// inside a transaction that holds the group row lock.
package lifecycle

import (
	"context"
	"time"

	"familybook/internal/domain/issues"
	"familybook/internal/domain/notices"
	"familybook/internal/service/grouplock"

	"gorm.io/gorm"
)

// Renderer lays out a book. A non-empty asset ref means the book was
// produced synchronously; otherwise completion arrives via callback.
type Renderer interface {
	Produce(ctx context.Context, req issues.ProductionRequest) (assetRef string, err error)
}

// Notifier is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, groupID string, kind notices.Kind, payload notices.Payload)
}

type Service struct {
	db          *gorm.DB
	renderer    Renderer
	notifier    Notifier
	locks       *grouplock.Locker
	now         func() time.Time
	loc         *time.Location
	concurrency int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithConcurrency bounds how many groups EvaluateDeadlines works on at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLocker(l *grouplock.Locker) Option {
	return func(s *Service) { s.locks = l }
}

func New(db *gorm.DB, renderer Renderer, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		db:          db,
		renderer:    renderer,
		notifier:    notifier,
		locks:       grouplock.New(),
		now:         time.Now,
		loc:         time.UTC,
		concurrency: 4,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) today() time.Time {
	return issues.DateOf(s.clock())
}
