package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Built-in rule names.
const (
	RuleFollowSeller       = "follow_seller"
	RuleFollowDurationDays = "follow_duration_days"
	RuleMinCompletedOrders = "min_completed_orders"
	RuleMinTotalSpent      = "min_total_spent"
	RuleNewUserOnly        = "new_user_only"
	RuleLevel              = "level"
	RuleLivestreamOnly     = "livestream_only"
	RuleBirthdayMonthUser  = "birthday_month_user"
)

// Value is the raw JSON value declared for a condition.
type Value jx.Raw

// Bool decodes the value as a boolean. An empty or null value is false.
func (v Value) Bool() (bool, error) {
	if len(v) == 0 {
		return false, nil
	}
	d := jx.DecodeBytes(v)
	switch d.Next() {
	case jx.Null:
		return false, nil
	case jx.Bool:
		return d.Bool()
	default:
		return false, errors.Errorf("expected bool, got %s", d.Next())
	}
}

// Number decodes the value as a decimal. Numeric strings are accepted.
func (v Value) Number() (decimal.Decimal, error) {
	d := jx.DecodeBytes(v)
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", d.Next())
	}
}

// Text decodes the value as a string.
func (v Value) Text() (string, error) {
	return jx.DecodeBytes(v).Str()
}

// Condition is one dynamic rule on a coupon.
type Condition struct {
	Rule  string
	Value Value
}

// RuleContext carries what a rule may inspect.
type RuleContext struct {
	UserID     string
	OrderValue decimal.Decimal
	Coupon     *Coupon
	Stats      *UserStats
	Now        time.Time
}

// RuleFunc evaluates one condition. An error means the declared value is
// malformed; the condition then fails.
type RuleFunc func(rc RuleContext, v Value) (bool, error)

// UnknownRulePolicy decides the outcome of a condition whose rule name is not
// registered.
type UnknownRulePolicy string

const (
	// UnknownRulePass skips unknown rules, treating them as satisfied.
	UnknownRulePass UnknownRulePolicy = "pass"
	// UnknownRuleFail rejects coupons carrying unknown rules.
	UnknownRuleFail UnknownRulePolicy = "fail"
)

// ParseUnknownRulePolicy validates a policy name from configuration.
func ParseUnknownRulePolicy(s string) (UnknownRulePolicy, error) {
	switch p := UnknownRulePolicy(s); p {
	case UnknownRulePass, UnknownRuleFail:
		return p, nil
	case "":
		return UnknownRulePass, nil
	default:
		return "", errors.Errorf("unknown rule policy %q: want pass or fail", s)
	}
}

// Registry maps rule names to their evaluators.
type Registry struct {
	mu      sync.RWMutex
	rules   map[string]RuleFunc
	unknown UnknownRulePolicy
}

// NewRegistry returns a Registry holding the built-in rules.
func NewRegistry(unknown UnknownRulePolicy) *Registry {
	r := &Registry{
		rules:   make(map[string]RuleFunc),
		unknown: unknown,
	}
	r.Register(RuleFollowSeller, followSeller)
	r.Register(RuleFollowDurationDays, followDurationDays)
	r.Register(RuleMinCompletedOrders, minCompletedOrders)
	r.Register(RuleMinTotalSpent, minTotalSpent)
	r.Register(RuleNewUserOnly, newUserOnly)
	r.Register(RuleLevel, minLevel)
	r.Register(RuleLivestreamOnly, livestreamOnly)
	r.Register(RuleBirthdayMonthUser, birthdayMonthUser)
	return r
}

// Register adds or replaces the evaluator for name.
func (r *Registry) Register(name string, fn RuleFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[name] = fn
}

func (r *Registry) lookup(name string) (RuleFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.rules[name]
	return fn, ok
}

// Evaluate checks conditions in declaration order and stops at the first
// failure, returning false and the failing rule name.
func (r *Registry) Evaluate(ctx context.Context, rc RuleContext, conditions []Condition) (bool, string) {
	lg := zctx.From(ctx)
	for _, c := range conditions {
		fn, ok := r.lookup(c.Rule)
		if !ok {
			lg.Warn("Unknown coupon rule",
				zap.String("rule", c.Rule),
				zap.String("coupon", rc.Coupon.Code),
				zap.String("policy", string(r.unknown)),
			)
			if r.unknown == UnknownRuleFail {
				return false, c.Rule
			}
			continue
		}

		passed, err := fn(rc, c.Value)
		if err != nil {
			lg.Warn("Malformed coupon condition",
				zap.String("rule", c.Rule),
				zap.String("coupon", rc.Coupon.Code),
				zap.Error(err),
			)
			return false, c.Rule
		}
		if !passed {
			return false, c.Rule
		}
	}
	return true, ""
}

var tierRank = map[string]int{
	"bronze":   0,
	"silver":   1,
	"gold":     2,
	"platinum": 3,
}

func followSeller(rc RuleContext, v Value) (bool, error) {
	want, err := v.Bool()
	if err != nil {
		return false, err
	}
	if !want || rc.Coupon.Scope.SellerID == "" {
		return true, nil
	}
	return rc.Stats.FollowedAt != nil, nil
}

func followDurationDays(rc RuleContext, v Value) (bool, error) {
	days, err := v.Number()
	if err != nil {
		return false, err
	}
	if rc.Coupon.Scope.SellerID == "" {
		return true, nil
	}
	if rc.Stats.FollowedAt == nil {
		return false, nil
	}
	followed := rc.Now.Sub(*rc.Stats.FollowedAt).Hours() / 24
	return decimal.NewFromFloat(followed).GreaterThanOrEqual(days), nil
}

func minCompletedOrders(rc RuleContext, v Value) (bool, error) {
	n, err := v.Number()
	if err != nil {
		return false, err
	}
	return decimal.NewFromInt(int64(rc.Stats.CompletedOrders)).GreaterThanOrEqual(n), nil
}

func minTotalSpent(rc RuleContext, v Value) (bool, error) {
	n, err := v.Number()
	if err != nil {
		return false, err
	}
	return rc.Stats.TotalSpent.GreaterThanOrEqual(n), nil
}

func newUserOnly(rc RuleContext, v Value) (bool, error) {
	want, err := v.Bool()
	if err != nil {
		return false, err
	}
	return !want || rc.Stats.IsNewUser, nil
}

func minLevel(rc RuleContext, v Value) (bool, error) {
	tier, err := v.Text()
	if err != nil {
		return false, err
	}
	required, ok := tierRank[tier]
	if !ok {
		return false, errors.Errorf("unknown tier %q", tier)
	}
	have, ok := tierRank[rc.Stats.Level]
	if !ok {
		return false, nil
	}
	return have >= required, nil
}

// livestreamOnly always passes until livestream sessions are tracked.
func livestreamOnly(RuleContext, Value) (bool, error) {
	return true, nil
}

func birthdayMonthUser(rc RuleContext, v Value) (bool, error) {
	want, err := v.Bool()
	if err != nil {
		return false, err
	}
	if !want {
		return true, nil
	}
	return rc.Stats.BirthMonth != 0 && rc.Stats.BirthMonth == rc.Now.Month(), nil
}
