// Package seed runs the demo-data pipeline against a Circuit tenant.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joshsymonds/convseed/internal/batch"
	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/config"
	"github.com/joshsymonds/convseed/internal/content"
	"github.com/joshsymonds/convseed/internal/files"
	"github.com/joshsymonds/convseed/internal/rate"
)

// ErrNotEnoughUsers is returned by discovery when fewer than three usable
// users remain after trimming and exclusions.
var ErrNotEnoughUsers = errors.New("at least three users need to be configured in the tenant")

// Spec describes one seeding run.
type Spec struct {
	Domain        string
	Email         string
	Password      string
	NrUsers       int
	ExcludeEmails []string
	FilesPath     string
	Open          int
	Group         int
	Posts         config.Range
	Replies       config.Range
	LikeRate      float64
	FlagRate      float64
	DryRun        bool
}

// SpecFromConfig maps a validated configuration onto a run spec.
func SpecFromConfig(cfg *config.Config) Spec {
	return Spec{
		Domain:        cfg.Domain,
		Email:         cfg.Admin.Email,
		Password:      cfg.Admin.Password,
		NrUsers:       cfg.NrUsers,
		ExcludeEmails: append([]string(nil), cfg.ExcludeEmails...),
		FilesPath:     cfg.FilesPath,
		Open:          cfg.Conversations.Open,
		Group:         cfg.Conversations.Group,
		Posts:         cfg.Conversations.Posts,
		Replies:       cfg.Conversations.Replies,
		LikeRate:      cfg.Conversations.Likes,
		FlagRate:      cfg.Conversations.Flags,
	}
}

// Recorder persists what a run created. All methods are called from the
// orchestrator goroutine.
type Recorder interface {
	BeginRun(ctx context.Context, runID, domain string, started time.Time) error
	Conversations(ctx context.Context, runID string, convs []circuit.Conversation) error
	Items(ctx context.Context, runID string, items []circuit.Item) error
	Reactions(ctx context.Context, runID, kind string, items []circuit.Item) error
	EndRun(ctx context.Context, runID string, finished time.Time, runErr error) error
}

const (
	reactionLike = "like"
	reactionFlag = "flag"
)

// Service executes seeding runs.
type Service struct {
	Client      circuit.Client
	Limiter     rate.Limiter
	Logger      *zap.Logger
	Clock       func() time.Time
	Pool        content.Pool
	Rand        *rand.Rand
	Concurrency int
	Recorder    Recorder
}

// NewService constructs a Service with the default content pool and no ledger.
func NewService(client circuit.Client, limiter rate.Limiter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Client:  client,
		Limiter: limiter,
		Logger:  logger,
		Clock:   time.Now,
		Pool:    content.DefaultPool(),
	}
}

// session is the state threaded through the phases of one run.
type session struct {
	spec     Spec
	runID    string
	me       circuit.User
	files    []files.Ref
	users    []circuit.User
	selector *content.Selector
	convs    *Registry
	report   *Report
	events   atomic.Int64
}

type phase struct {
	name string
	run  func(ctx context.Context, sess *session) error
}

func (s *Service) phases(spec Spec) []phase {
	list := []phase{
		{"init", s.loadFiles},
		{"logon", s.logon},
		{"users", s.discoverUsers},
	}
	if spec.DryRun {
		return append(list, phase{"plan", s.plan})
	}
	return append(list,
		phase{"conversations", s.createConversations},
		phase{"posts", s.sendPosts},
		phase{"replies", s.sendReplies},
		phase{"react", s.react},
	)
}

// Run executes every phase in order and stops at the first failure. The
// returned report covers whatever completed, failed runs included.
func (s *Service) Run(ctx context.Context, spec Spec) (Report, error) {
	sess := &session{
		spec:   spec,
		runID:  uuid.NewString(),
		convs:  NewRegistry(),
		report: &Report{DryRun: spec.DryRun},
	}
	started := s.Clock()
	sess.report.RunID = sess.runID
	sess.report.StartedAt = started

	logger := s.Logger.With(zap.String("run_id", sess.runID))
	if s.Recorder != nil {
		if err := s.Recorder.BeginRun(ctx, sess.runID, spec.Domain, started); err != nil {
			return *sess.report, fmt.Errorf("ledger: %w", err)
		}
	}

	runErr := s.runPhases(ctx, sess, logger)

	sess.report.Duration = s.Clock().Sub(started)
	sess.report.EventsObserved = int(sess.events.Load())
	sess.report.fill(sess.convs.Snapshot())
	if s.Recorder != nil {
		// the run context may already be canceled; the ledger should still close the run
		endCtx := context.WithoutCancel(ctx)
		if err := s.Recorder.EndRun(endCtx, sess.runID, s.Clock(), runErr); err != nil && runErr == nil {
			runErr = fmt.Errorf("ledger: %w", err)
		}
	}
	return *sess.report, runErr
}

func (s *Service) runPhases(ctx context.Context, sess *session, logger *zap.Logger) error {
	for _, ph := range s.phases(sess.spec) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("phase %s: %w", ph.name, err)
		}
		begin := s.Clock()
		logger.Debug("phase started", zap.String("phase", ph.name))
		if err := ph.run(ctx, sess); err != nil {
			return fmt.Errorf("phase %s: %w", ph.name, err)
		}
		took := s.Clock().Sub(begin)
		sess.report.Phases = append(sess.report.Phases, PhaseResult{Name: ph.name, Duration: took})
		logger.Debug("phase finished", zap.String("phase", ph.name), zap.Duration("took", took))
	}
	return nil
}

func (s *Service) batchOptions() batch.Options {
	return batch.Options{Limit: s.Concurrency, Limiter: s.Limiter}
}

func (s *Service) newSelector(sess *session) *content.Selector {
	return content.NewSelector(s.Rand, s.Pool, sess.users, sess.me.ID, sess.files)
}
