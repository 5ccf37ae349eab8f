package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torvus-security/torvus-console/internal/cache"
	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/events"
	"github.com/torvus-security/torvus-console/internal/observability"
	"github.com/torvus-security/torvus-console/internal/repository"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

const (
	settingsComponent     = "settings store"
	settingsLookupTimeout = 2 * time.Second
)

// ReadOnlyDecision is the outcome of read-only enforcement for one request.
// Known is false when the settings could not be determined at all.
type ReadOnlyDecision struct {
	Blocked  bool
	Known    bool
	Settings domain.ReadOnlySettings
}

// Err returns the read-only rejection for a blocked decision, or nil.
func (d ReadOnlyDecision) Err() error {
	if !d.Blocked {
		return nil
	}
	return apperrors.NewReadOnly(d.Settings.Message)
}

// ReadOnlyService is the global mutation kill switch.
type ReadOnlyService struct {
	repo           repository.SettingsRepository
	cache          *cache.TTL[domain.ReadOnlySettings]
	bypass         []string
	defaultMessage string
	dispatcher     events.Dispatcher
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// ReadOnlyDependencies bundles collaborators for read-only enforcement.
type ReadOnlyDependencies struct {
	Repo       repository.SettingsRepository
	Config     config.ReadOnlyConfig
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewReadOnlyService constructs the enforcer.
func NewReadOnlyService(deps ReadOnlyDependencies) *ReadOnlyService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	bypass := make([]string, 0, len(deps.Config.BypassPaths))
	for _, p := range deps.Config.BypassPaths {
		if p = strings.TrimSpace(p); p != "" {
			bypass = append(bypass, p)
		}
	}
	message := strings.TrimSpace(deps.Config.DefaultMessage)
	if message == "" {
		message = "service temporarily read-only"
	}
	return &ReadOnlyService{
		repo:           deps.Repo,
		cache:          cache.NewTTL[domain.ReadOnlySettings](deps.Config.CacheTTL()).WithClock(clock),
		bypass:         bypass,
		defaultMessage: message,
		dispatcher:     deps.Dispatcher,
		metrics:        deps.Metrics,
		logger:         logger,
		now:            clock,
	}
}

// IsMutating reports whether method can change state.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS", "TRACE":
		return false
	default:
		return true
	}
}

// ShouldBlock decides whether a request must be rejected by read-only mode.
// When the settings cannot be determined the service behaves as if read-only
// mode were enabled with only security_admin allow-listed.
func (s *ReadOnlyService) ShouldBlock(ctx context.Context, method, path string, roles []string) ReadOnlyDecision {
	settings, known := s.current(ctx)
	if !known {
		settings = domain.ReadOnlySettings{Enabled: true, Message: s.defaultMessage}.Normalize()
	}
	decision := ReadOnlyDecision{Known: known, Settings: settings}

	if !IsMutating(method) {
		return decision
	}
	if !settings.Enabled || s.bypassed(path) || settings.Allows(roles) {
		return decision
	}
	decision.Blocked = true
	s.metrics.RecordReadOnlyBlock()
	return decision
}

// Get returns the current settings, refreshing the cache when stale.
func (s *ReadOnlyService) Get(ctx context.Context) (domain.ReadOnlySettings, error) {
	settings, known := s.current(ctx)
	if !known {
		return domain.ReadOnlySettings{}, apperrors.NewTransientBackend(settingsComponent, apperrors.ErrTransientBackend)
	}
	return settings, nil
}

// Update normalizes and persists settings, then refreshes the cache.
func (s *ReadOnlyService) Update(ctx context.Context, settings domain.ReadOnlySettings, actor string) (domain.ReadOnlySettings, error) {
	if s.repo == nil {
		return domain.ReadOnlySettings{}, apperrors.NewConfigurationMissing(settingsComponent)
	}
	next := settings.Normalize()
	if next.Enabled && next.Message == "" {
		next.Message = s.defaultMessage
	}
	next.UpdatedBy = actor
	next.UpdatedAt = s.now().UTC()

	raw, err := json.Marshal(next)
	if err != nil {
		return domain.ReadOnlySettings{}, apperrors.NewInternalError(err)
	}
	putCtx, cancel := context.WithTimeout(ctx, settingsLookupTimeout)
	defer cancel()
	if err := s.repo.Put(putCtx, domain.ReadOnlySettingsKey, raw, actor); err != nil {
		if apperrors.IsTransient(err) {
			return domain.ReadOnlySettings{}, apperrors.NewTransientBackend(settingsComponent, err)
		}
		return domain.ReadOnlySettings{}, err
	}
	s.cache.Set(domain.ReadOnlySettingsKey, next)

	s.logger.Info("read-only settings updated",
		zap.Bool("enabled", next.Enabled),
		zap.Strings("allow_roles", next.AllowRoles),
		zap.String("actor", actor))
	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:         uuid.NewString(),
			Type:       events.EventReadOnlyUpdated,
			TargetType: "setting",
			TargetID:   domain.ReadOnlySettingsKey,
			Actor:      actor,
			Timestamp:  next.UpdatedAt,
			Payload: events.ReadOnlyUpdatedPayload{
				Enabled:    next.Enabled,
				Message:    next.Message,
				AllowRoles: next.AllowRoles,
			},
		})
	}
	return next, nil
}

// current returns fresh settings, or the last-known-good value when the
// store fails. known is false only when nothing was ever loaded.
func (s *ReadOnlyService) current(ctx context.Context) (domain.ReadOnlySettings, bool) {
	cached, present, fresh := s.cache.GetStale(domain.ReadOnlySettingsKey)
	if fresh {
		s.metrics.RecordCacheLookup("read_only", true)
		return cached, true
	}
	s.metrics.RecordCacheLookup("read_only", false)

	loaded, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("read-only settings unavailable",
			zap.Bool("serving_last_known", present),
			zap.Error(err))
		if present {
			return cached, true
		}
		return domain.ReadOnlySettings{}, false
	}
	s.cache.Set(domain.ReadOnlySettingsKey, loaded)
	return loaded, true
}

func (s *ReadOnlyService) load(ctx context.Context) (domain.ReadOnlySettings, error) {
	if s.repo == nil {
		return domain.ReadOnlySettings{}, apperrors.NewConfigurationMissing(settingsComponent)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, settingsLookupTimeout)
	defer cancel()
	raw, err := s.repo.Get(lookupCtx, domain.ReadOnlySettingsKey)
	if err != nil {
		if apperrors.IsNoRows(err) {
			return domain.ReadOnlySettings{}.Normalize(), nil
		}
		return domain.ReadOnlySettings{}, err
	}
	var settings domain.ReadOnlySettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.ReadOnlySettings{}, err
	}
	settings = settings.Normalize()
	if settings.Enabled && settings.Message == "" {
		settings.Message = s.defaultMessage
	}
	return settings, nil
}

func (s *ReadOnlyService) bypassed(path string) bool {
	for _, prefix := range s.bypass {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == prefix {
			return true
		}
	}
	return false
}
