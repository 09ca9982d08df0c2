package coupon

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xenking/cookmart/internal/domain/coupon"

// ValidateRequest holds the input of a coupon check.
type ValidateRequest struct {
	UserID     string
	Code       string
	OrderValue decimal.Decimal
	Items      []Item
}

// Result is the outcome of a coupon check. Rejections are results, not errors.
type Result struct {
	Valid   bool
	Reason  Reason
	Message string
	// FailedRule names the dynamic condition that failed, if any.
	FailedRule string
	Discount   decimal.Decimal
	FinalPrice decimal.Decimal
	Coupon     *Public
}

func reject(reason Reason) *Result {
	return &Result{Reason: reason, Message: Message(reason, decimal.Zero)}
}

// Option configures a Validator.
type Option func(*Validator)

// WithTracerProvider traces each validation as a span.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Validator) {
		v.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider counts validation outcomes by reason.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(v *Validator) {
		counter, err := mp.Meter(instrumentationName).Int64Counter("coupon.validations",
			metric.WithDescription("Coupon validations by outcome reason"),
		)
		if err == nil {
			v.outcomes = counter
		}
	}
}

// Validator runs the ordered coupon checks and computes the discount. It never
// records a redemption.
type Validator struct {
	coupons  Repository
	usage    RedemptionRepository
	stats    *Aggregator
	rules    *Registry
	now      func() time.Time
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewValidator creates a Validator.
func NewValidator(
	coupons Repository,
	usage RedemptionRepository,
	stats *Aggregator,
	rules *Registry,
	opts ...Option,
) *Validator {
	noopCounter, _ := metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("coupon.validations")
	v := &Validator{
		coupons:  coupons,
		usage:    usage,
		stats:    stats,
		rules:    rules,
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		outcomes: noopCounter,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks req with freshly aggregated user stats.
func (v *Validator) Validate(ctx context.Context, req ValidateRequest) (*Result, error) {
	return v.ValidateWith(ctx, req, v.stats.Memo(req.UserID))
}

// ValidateWith checks req reusing stats already gathered in memo. memo must
// belong to req.UserID.
func (v *Validator) ValidateWith(ctx context.Context, req ValidateRequest, memo *StatsMemo) (*Result, error) {
	ctx, span := v.tracer.Start(ctx, "coupon.Validate",
		trace.WithAttributes(attribute.String("coupon.code", NormalizeCode(req.Code))),
	)
	defer span.End()

	res, err := v.validate(ctx, req, memo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("coupon.valid", res.Valid),
		attribute.String("coupon.reason", string(res.Reason)),
	)
	v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(res.Reason))))
	return res, nil
}

func (v *Validator) validate(ctx context.Context, req ValidateRequest, memo *StatsMemo) (*Result, error) {
	code := NormalizeCode(req.Code)
	if req.UserID == "" || code == "" {
		return reject(ReasonNotFound), nil
	}

	c, err := v.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ReasonNotFound), nil
		}
		return nil, internalErr("find coupon", err)
	}
	if !c.IsActive {
		return reject(ReasonNotFound), nil
	}

	now := v.now()
	if !c.InWindow(now) {
		return reject(ReasonOutOfWindow), nil
	}

	if minOrder := c.Discount.MinOrderValue; minOrder.Valid && req.OrderValue.LessThan(minOrder.Decimal) {
		return &Result{
			Reason:  ReasonMinOrderValue,
			Message: Message(ReasonMinOrderValue, minOrder.Decimal),
		}, nil
	}

	if c.Limits.UsageLimit > 0 {
		used, err := v.usage.CountUsed(ctx, c.ID)
		if err != nil {
			return nil, internalErr("count coupon uses", err)
		}
		if used >= c.Limits.UsageLimit {
			return reject(ReasonUsageLimitReached), nil
		}
	}

	if c.Limits.PerUserLimit > 0 {
		used, err := v.usage.CountUsedByUser(ctx, c.ID, req.UserID)
		if err != nil {
			return nil, internalErr("count user coupon uses", err)
		}
		if used >= c.Limits.PerUserLimit {
			return reject(ReasonPerUserLimitReached), nil
		}
	}

	if len(c.EligibleUsers) > 0 && !slices.Contains(c.EligibleUsers, req.UserID) {
		return reject(ReasonNotEligible), nil
	}
	if len(c.ExcludedUsers) > 0 && slices.Contains(c.ExcludedUsers, req.UserID) {
		return reject(ReasonExcluded), nil
	}

	if len(c.Scope.Products) > 0 && !anyProductIn(req.Items, c.Scope.Products) {
		return reject(ReasonScopeMismatch), nil
	}

	if len(c.Conditions) > 0 {
		stats, err := memo.Get(ctx, c.Scope.SellerID)
		if err != nil {
			return nil, internalErr("compute user stats", err)
		}
		ok, failed := v.rules.Evaluate(ctx, RuleContext{
			UserID:     req.UserID,
			OrderValue: req.OrderValue,
			Coupon:     c,
			Stats:      stats,
			Now:        now,
		}, c.Conditions)
		if !ok {
			res := reject(ReasonConditionsNotMet)
			res.FailedRule = failed
			return res, nil
		}
	}

	discount := CalculateDiscount(c.Discount, req.OrderValue)
	return &Result{
		Valid:      true,
		Reason:     ReasonOK,
		Message:    Message(ReasonOK, decimal.Zero),
		Discount:   discount,
		FinalPrice: FinalPrice(req.OrderValue, discount),
		Coupon:     c.Public(),
	}, nil
}
