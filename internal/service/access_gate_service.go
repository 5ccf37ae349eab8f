package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/torvus-security/torvus-console/internal/cache"
	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/observability"
	"github.com/torvus-security/torvus-console/internal/repository"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

const directoryComponent = "staff directory"

// AccessGateService decides whether an identity has baseline console access.
type AccessGateService struct {
	directory repository.StaffDirectory
	cache     cache.GateCache
	breaker   *gobreaker.CircuitBreaker[*domain.StaffRecord]
	required  []string
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// AccessGateDependencies bundles collaborators for the gate.
type AccessGateDependencies struct {
	Directory repository.StaffDirectory
	Cache     cache.GateCache
	Config    config.GateConfig
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Clock     func() time.Time
}

// NewAccessGateService constructs the evaluator. A nil Directory is allowed
// and makes every lookup fail with ErrConfigurationMissing.
func NewAccessGateService(deps AccessGateDependencies) *AccessGateService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	required := normalizeRoles(deps.Config.RequiredRoles)
	if len(required) == 0 {
		required = []string{"security_admin", "auditor"}
	}
	failures := deps.Config.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	svc := &AccessGateService{
		directory: deps.Directory,
		cache:     deps.Cache,
		required:  required,
		timeout:   deps.Config.LookupTimeout(),
		metrics:   deps.Metrics,
		logger:    logger,
		now:       clock,
	}
	svc.breaker = gobreaker.NewCircuitBreaker[*domain.StaffRecord](gobreaker.Settings{
		Name:        "staff-directory",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     deps.Config.BreakerTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("directory breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return svc
}

// RequiredRoles returns the baseline role set in configured order.
func (s *AccessGateService) RequiredRoles() []string {
	return append([]string(nil), s.required...)
}

// Evaluate computes the gate decision for email. A non-nil error means the
// decision is unknown; the returned evaluation is then a fail-closed denial
// that must not be cached or reported as a policy denial.
func (s *AccessGateService) Evaluate(ctx context.Context, email string) (domain.GateEvaluation, error) {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		s.metrics.RecordGateDecision("denied")
		return domain.GateEvaluation{
			Allowed: false,
			Reasons: []string{domain.ReasonMissingEmail},
			Flags:   domain.UnknownFlags(),
			Roles:   []string{},
			RoleIDs: []string{},
		}, nil
	}

	if s.cache != nil {
		eval, ok := s.cache.Get(ctx, normalized)
		s.metrics.RecordCacheLookup("gate", ok)
		if ok {
			s.recordDecision(eval)
			return eval, nil
		}
	}

	if s.directory == nil {
		s.metrics.RecordGateDecision("error")
		return failClosed(normalized), apperrors.NewConfigurationMissing(directoryComponent)
	}

	record, err := s.lookup(ctx, normalized)
	if err != nil {
		s.metrics.RecordGateDecision("error")
		return failClosed(normalized), apperrors.NewTransientBackend(directoryComponent, err)
	}

	eval := s.build(normalized, record)
	if s.cache != nil {
		s.cache.Set(ctx, normalized, eval)
	}
	s.recordDecision(eval)
	return eval, nil
}

// Invalidate drops any cached evaluation for email.
func (s *AccessGateService) Invalidate(ctx context.Context, email string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, domain.NormalizeEmail(email))
}

func (s *AccessGateService) lookup(ctx context.Context, email string) (*domain.StaffRecord, error) {
	return s.breaker.Execute(func() (*domain.StaffRecord, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		record, err := s.directory.LookupByEmail(lookupCtx, email)
		if apperrors.IsNoRows(err) {
			// absent records are answers, not breaker failures
			return nil, nil
		}
		if err != nil {
			if errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("lookup exceeded %s: %w", s.timeout, err)
			}
			return nil, err
		}
		return record, nil
	})
}

func (s *AccessGateService) build(email string, record *domain.StaffRecord) domain.GateEvaluation {
	eval := domain.GateEvaluation{
		Email:   email,
		Reasons: []string{},
		Flags:   domain.UnknownFlags(),
		Roles:   []string{},
		RoleIDs: []string{},
	}
	roleSet := map[string]struct{}{}
	if record == nil {
		// the remaining checks still run against unknown flags and no roles
		eval.Reasons = append(eval.Reasons, domain.ReasonRecordMissing)
	} else {
		eval.UserID = record.Identity.UserID
		eval.DisplayName = record.Identity.DisplayName
		eval.Flags = record.Flags

		now := s.now()
		idSet := map[string]struct{}{}
		for _, m := range record.Memberships {
			if !m.Active(now) {
				continue
			}
			roleSet[strings.ToLower(strings.TrimSpace(m.Role))] = struct{}{}
			if m.ID != "" {
				idSet[m.ID] = struct{}{}
			}
		}
		eval.Roles = sortedKeys(roleSet)
		eval.RoleIDs = sortedKeys(idSet)
	}

	flags := eval.Flags
	if !flags.Enrolled {
		eval.Reasons = append(eval.Reasons, domain.ReasonEnrollmentIncomplete)
	}
	if !flags.Verified {
		eval.Reasons = append(eval.Reasons, domain.ReasonNotVerified)
	}
	if flags.Status != domain.StaffStatusActive {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("status %s is not active", displayStatus(flags.Status)))
	}
	hasRequired := s.hasRequiredRole(roleSet)
	if !hasRequired {
		eval.Reasons = append(eval.Reasons, "missing required role "+strings.Join(s.required, " or "))
	}
	if !flags.PasskeyEnrolled {
		eval.Reasons = append(eval.Reasons, domain.ReasonPasskeyNotEnrolled)
	}

	eval.Allowed = record != nil &&
		flags.Enrolled &&
		flags.Verified &&
		flags.Status == domain.StaffStatusActive &&
		hasRequired
	return eval
}

func (s *AccessGateService) hasRequiredRole(roles map[string]struct{}) bool {
	for _, r := range s.required {
		if _, ok := roles[r]; ok {
			return true
		}
	}
	return false
}

func (s *AccessGateService) recordDecision(eval domain.GateEvaluation) {
	if eval.Allowed {
		s.metrics.RecordGateDecision("allowed")
		return
	}
	s.metrics.RecordGateDecision("denied")
}

func failClosed(email string) domain.GateEvaluation {
	return domain.GateEvaluation{
		Email:   email,
		Allowed: false,
		Reasons: []string{},
		Flags:   domain.UnknownFlags(),
		Roles:   []string{},
		RoleIDs: []string{},
	}
}

func displayStatus(status string) string {
	if strings.TrimSpace(status) == "" {
		return "unknown"
	}
	return status
}

func normalizeRoles(roles []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
