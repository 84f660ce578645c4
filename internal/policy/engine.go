// Package policy implements the bastion's attribute-based policy engine:
// subject/object/action matching against persisted rules, three independent
// role-hierarchy graphs, and environmental predicates (spec §4.3).
package policy

import (
	"context"
	"sync"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/google/uuid"
)

// Mode selects which role graphs the engine indexes (spec §4.3).
type Mode int

const (
	// Light indexes only g1 (subject groups); object/action matches are
	// exact equality.
	Light Mode = iota
	// Full indexes all three graphs and uses them for role-expanded
	// object and action matches.
	Full
)

// ActivityChecker answers whether an object name currently refers to an
// active internal object or target-secret, used by the Object-active step
// (spec §4.3 step 2b). Implemented by the Identity Store.
type ActivityChecker interface {
	IsObjectActive(ctx context.Context, objectID string) (bool, error)
}

// RuleSource loads the rows an Engine indexes. Implemented by the Identity
// Store; kept as a narrow interface so the engine has no direct SQL
// dependency.
type RuleSource interface {
	ListCasbinRules(ctx context.Context) ([]domain.CasbinRule, error)
}

// Request is the (subject, object, action, env) tuple evaluated by Engine.
type Request struct {
	Subject string
	Object  string
	Action  string
	Env     Env
}

// Engine evaluates requests against persisted p/g1/g2/g3 rows. Readers take
// a read lock; Reload takes the write lock and swaps in a freshly built
// snapshot atomically (spec §4.3 "Role-graph refresh").
type Engine struct {
	mode     Mode
	source   RuleSource
	activity ActivityChecker

	mu       sync.RWMutex
	policies []domain.CasbinRule
	g1       *roleGraph // subject
	g2       *roleGraph // object
	g3       *roleGraph // action
}

// New constructs an Engine in the given mode. Call Reload once before
// serving requests to populate the initial snapshot.
func New(mode Mode, source RuleSource, activity ActivityChecker) *Engine {
	return &Engine{mode: mode, source: source, activity: activity}
}

// Reload rebuilds the policy set and role graphs from the RuleSource,
// replacing the engine's snapshot atomically under the write lock
// (spec §4.3 "Role-graph refresh", supplemented `flush` command).
func (e *Engine) Reload(ctx context.Context) error {
	rows, err := e.source.ListCasbinRules(ctx)
	if err != nil {
		return err
	}

	var policies, g1rows, g2rows, g3rows []domain.CasbinRule
	for _, r := range rows {
		switch r.Ptype {
		case domain.PTypePolicy:
			policies = append(policies, r)
		case domain.PTypeSubject:
			g1rows = append(g1rows, r)
		case domain.PTypeObject:
			g2rows = append(g2rows, r)
		case domain.PTypeAction:
			g3rows = append(g3rows, r)
		}
	}

	g1 := buildGraph(g1rows)
	var g2, g3 *roleGraph
	if e.mode == Full {
		g2 = buildGraph(g2rows)
		g3 = buildGraph(g3rows)
	}

	e.mu.Lock()
	e.policies = policies
	e.g1 = g1
	e.g2 = g2
	e.g3 = g3
	e.mu.Unlock()
	return nil
}

// isUserLiteral reports whether s parses as a UUID, i.e. is a concrete user
// id rather than a role name (spec §4.3 step 1: "subject is not a user
// literal").
func isUserLiteral(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Evaluate runs the matching algorithm of spec §4.3 and returns true on the
// first accepting candidate, false if the candidate set is exhausted
// (spec §8: "Policy engine with zero candidates always denies").
func (e *Engine) Evaluate(ctx context.Context, req Request) (bool, error) {
	e.mu.RLock()
	policies := e.policies
	g1, g2, g3 := e.g1, e.g2, e.g3
	e.mu.RUnlock()

	for _, p := range policies {
		// 1. Subject match.
		if !(p.V0 == req.Subject || (!isUserLiteral(p.V0) && g1.reaches(p.V0, req.Subject))) {
			continue
		}

		// 2a. Object match.
		if !(p.V1 == req.Object || (e.mode == Full && g2.reaches(p.V1, req.Object))) {
			continue
		}

		// 2b. Object-active.
		if e.activity != nil && (domain.IsInternalObject(req.Object) || looksLikeTargetSecret(req.Object)) {
			active, err := e.activity.IsObjectActive(ctx, req.Object)
			if err != nil {
				return false, err
			}
			if !active {
				continue
			}
		}

		// 2c. Action match.
		if !(p.V2 == req.Action || (e.mode == Full && g3.reaches(p.V2, req.Action))) {
			continue
		}

		// 2d. Environment match.
		ext, err := ParseExtension(p.V3)
		if err != nil {
			continue
		}
		if !ext.Accepts(req.Env) {
			continue
		}

		return true, nil
	}
	return false, nil
}

// looksLikeTargetSecret reports whether id is a UUID naming a target-secret
// object rather than an internal "__"-name or a role name; such an object
// must also be checked for activity (spec §4.3 step 2b).
func looksLikeTargetSecret(id string) bool {
	if domain.IsInternalObject(id) {
		return false
	}
	return isUserLiteral(id)
}
