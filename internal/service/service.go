package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"barpos/backend/internal/cache"
	"barpos/backend/internal/domain"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

// ErrForbidden is returned when the actor lacks the admin role.
var ErrForbidden = errors.New("admin role required")

const tracerName = "barpos/backend/internal/service"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options carries the optional collaborators of a Service. Zero values fall
// back to in-process defaults.
type Options struct {
	RecipeCache    cache.RecipeCache
	RecipeCacheTTL time.Duration
	Locker         lock.Locker
	Tracer         trace.Tracer
	Logger         *zap.Logger
	RefundAttempts int
	RefundBackoff  time.Duration
}

type Service struct {
	repo           store.Repository
	recipes        cache.RecipeCache
	recipeTTL      time.Duration
	locker         lock.Locker
	tracer         trace.Tracer
	logger         *zap.Logger
	refundAttempts int
	refundBackoff  time.Duration
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.RecipeCache == nil {
		opts.RecipeCache = cache.NoopRecipeCache{}
	}
	if opts.RecipeCacheTTL <= 0 {
		opts.RecipeCacheTTL = 5 * time.Minute
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RefundAttempts < 1 {
		opts.RefundAttempts = 3
	}
	if opts.RefundBackoff <= 0 {
		opts.RefundBackoff = 100 * time.Millisecond
	}

	return &Service{
		repo:           repo,
		recipes:        opts.RecipeCache,
		recipeTTL:      opts.RecipeCacheTTL,
		locker:         opts.Locker,
		tracer:         opts.Tracer,
		logger:         opts.Logger.Named("service"),
		refundAttempts: opts.RefundAttempts,
		refundBackoff:  opts.RefundBackoff,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// resolver returns a fresh request-scoped recipe resolver backed by the shared cache.
func (s *Service) resolver() *recipe.Resolver {
	return recipe.NewResolver(s.repo, s.recipes, s.recipeTTL, s.logger)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// lockProducts serializes balance changes on the given products across
// callers sharing the locker.
func (s *Service) lockProducts(ctx context.Context, productIDs []string) (func(), error) {
	return s.locker.Lock(ctx, lock.StockKeys(productIDs)...)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}
