package policy

import "fmt"

// Route selects the portal a stop trigger should be escalated to. The first
// rule whose predicate matches wins; Fallback applies when none do.
type Route struct {
	Portal    string `json:"portal"`
	Predicate string `json:"predicate"`

	evaluator *Evaluator
}

// Router evaluates routing rules in order.
type Router struct {
	routes   []Route
	fallback string
}

// NewRouter compiles the routing rules. Rules are evaluated in the order given.
func NewRouter(routes []Route, fallback string) (*Router, error) {
	if fallback == "" {
		fallback = "OPERATOR_REVIEW"
	}
	compiled := make([]Route, len(routes))
	for i, r := range routes {
		e, err := NewEvaluator(r.Predicate)
		if err != nil {
			return nil, fmt.Errorf("route to %s, details: %v", r.Portal, err)
		}
		r.evaluator = e
		compiled[i] = r
	}
	return &Router{routes: compiled, fallback: fallback}, nil
}

// Portal returns the portal the outcome routes to.
func (r *Router) Portal(outcome Outcome) (string, error) {
	for i := range r.routes {
		matched, err := r.routes[i].evaluator.Evaluate(outcome)
		if err != nil {
			return "", err
		}
		if matched {
			return r.routes[i].Portal, nil
		}
	}
	return r.fallback, nil
}

// DefaultRouter routes integrity conditions to integrity review and
// plain oracle failures to engineering review.
func DefaultRouter() *Router {
	router, err := NewRouter([]Route{
		{Portal: "ENGINEERING_REVIEW", Predicate: `condition == "ORACLE_FAILED"`},
		{Portal: "INTEGRITY_REVIEW", Predicate: `condition.startsWith("ORACLE_") || condition == "EVIDENCE_MISSING" || condition == "MANIFEST_INVALID"`},
	}, "OPERATOR_REVIEW")
	if err != nil {
		// The default rules are constants; a compile failure is a programming error.
		panic(err)
	}
	return router
}
