package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/care-scheduler/backend/internal/storage/models"
)

// DefaultOverdueLookBack bounds how far back a sweep looks for missed windows.
const DefaultOverdueLookBack = 7 * 24 * time.Hour

// SweeperOptions configures an OverdueSweeper.
type SweeperOptions struct {
	// Spec is the cron schedule, e.g. "@every 1m".
	Spec string
	// LookBack limits each pass to windows that ended within it.
	LookBack time.Duration
	Clock    func() time.Time
	// OnError is called when a scheduled pass fails.
	OnError func(error)
}

// OverdueSweeper periodically looks for scheduled occurrences whose window
// has passed and announces each one once.
type OverdueSweeper struct {
	cron     *cron.Cron
	spec     string
	lookBack time.Duration
	query    *Query
	notifier Notifier
	now      func() time.Time
	onError  func(error)

	mu       sync.Mutex
	reported map[string]bool
}

// NewOverdueSweeper creates a sweeper. Zero options fall back to a one
// minute schedule and DefaultOverdueLookBack.
func NewOverdueSweeper(query *Query, notifier Notifier, opts SweeperOptions) *OverdueSweeper {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Spec == "" {
		opts.Spec = "@every 1m"
	}
	if opts.LookBack <= 0 {
		opts.LookBack = DefaultOverdueLookBack
	}

	return &OverdueSweeper{
		cron:     cron.New(),
		spec:     opts.Spec,
		lookBack: opts.LookBack,
		query:    query,
		notifier: notifier,
		now:      opts.Clock,
		onError:  opts.OnError,
		reported: make(map[string]bool),
	}
}

// Start begins the periodic sweep.
func (s *OverdueSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return fmt.Errorf("scheduling overdue sweep %q: %w", s.spec, err)
	}

	s.cron.Start()
	log.Info().Str("spec", s.spec).Dur("look_back", s.lookBack).Msg("overdue sweeper started")
	return nil
}

func (s *OverdueSweeper) run() {
	if _, err := s.Sweep(context.Background()); err != nil {
		log.Error().Err(err).Msg("overdue sweep failed")
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// Stop gracefully shuts down the sweeper.
func (s *OverdueSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("overdue sweeper stopped")
}

// Sweep runs one pass and returns the occurrences that became overdue since
// the previous pass.
func (s *OverdueSweeper) Sweep(ctx context.Context) ([]models.Occurrence, error) {
	now := s.now()
	overdue, err := s.query.OverdueSince(ctx, now, now.Add(-s.lookBack))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	current := make(map[string]bool, len(overdue))
	var fresh []models.Occurrence
	for _, o := range overdue {
		current[o.ID] = true
		if !s.reported[o.ID] {
			fresh = append(fresh, o)
		}
	}
	// Occurrences that left the overdue set are forgotten.
	s.reported = current
	s.mu.Unlock()

	if len(fresh) > 0 {
		log.Info().Int("count", len(fresh)).Msg("occurrences overdue")
		s.notifier.OccurrencesOverdue(fresh)
	}

	return fresh, nil
}
