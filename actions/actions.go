package actions

import (
	"context"

	"go.uber.org/zap"

	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/session"
)

// Variant selects how a notice is styled.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notice is the feedback shown to the user after an action.
type Notice struct {
	Variant     Variant `json:"variant"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
}

// Outcome classifies how an action ended.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeAlreadyDone    Outcome = "already_done"
	OutcomeFailed         Outcome = "failed"
	OutcomeSignInRequired Outcome = "sign_in_required"
	OutcomeForbidden      Outcome = "forbidden"
)

// Result is embedded in every action result.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Notice  Notice  `json:"notice"`
}

// OK reports whether the action changed state.
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

const genericFailure = "Something went wrong. Please try again."

// Cache is what the action layer needs from the user data cache.
type Cache interface {
	Invalidate(ctx context.Context, h session.Handle, entries ...cache.Entry)
	ReferralRewards(ctx context.Context, h session.Handle) ([]models.ReferralReward, error)
}

// ActivitySink accepts best-effort activity entries without blocking.
type ActivitySink interface {
	Submit(in gateway.ActivityInput) bool
}

// Options tune the action layer.
type Options struct {
	LoginPoints int
}

// Service mediates every user-triggered state change.
type Service struct {
	gw       gateway.Gateway
	cache    Cache
	activity ActivitySink
	log      *zap.Logger
	opts     Options
}

func New(gw gateway.Gateway, c Cache, activity ActivitySink, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{gw: gw, cache: c, activity: activity, log: log, opts: opts}
}

func success(title, desc string) Result {
	return Result{Outcome: OutcomeSuccess, Notice: Notice{Variant: VariantDefault, Title: title, Description: desc}}
}

func benign(title, desc string) Result {
	return Result{Outcome: OutcomeAlreadyDone, Notice: Notice{Variant: VariantDefault, Title: title, Description: desc}}
}

func failure(title, desc string) Result {
	return Result{Outcome: OutcomeFailed, Notice: Notice{Variant: VariantDestructive, Title: title, Description: desc}}
}

func signInRequired(desc string) Result {
	return Result{Outcome: OutcomeSignInRequired, Notice: Notice{Variant: VariantDestructive, Title: "Sign in required", Description: desc}}
}

func forbidden() Result {
	return Result{Outcome: OutcomeForbidden, Notice: Notice{Variant: VariantDestructive, Title: "Error", Description: "Admin access required"}}
}

// messageOr returns the server-supplied message of err, else fallback.
func messageOr(err error, fallback string) string {
	if msg := gateway.UserMessage(err); msg != "" {
		return msg
	}
	return fallback
}

func nonEmpty(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// outcomeOf maps a gateway status onto an action outcome.
func outcomeOf(status gateway.Status) Outcome {
	switch status {
	case gateway.StatusOK:
		return OutcomeSuccess
	case gateway.StatusAlreadyDone:
		return OutcomeAlreadyDone
	default:
		return OutcomeFailed
	}
}
