package rest_api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
)

type createLoopRequest struct {
	Title         string          `json:"title" binding:"required"`
	Goal          string          `json:"goal"`
	Budgets       *sr.LoopBudgets `json:"budgets"`
	PolicyProfile json.RawMessage `json:"policy_profile"`
}

// CreateLoop appends LoopCreated on a fresh loop stream.
func (a *API) CreateLoop(c *gin.Context) {
	var req createLoopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	budgets := sr.DefaultLoopBudgets()
	if req.Budgets != nil {
		budgets = *req.Budgets
	}

	loopID := sr.NewLoopID()
	e, err := sr.NewEvent(loopID, 1, sr.EventLoopCreated, actorFrom(c), sr.LoopCreatedPayload{
		Title:         req.Title,
		Goal:          req.Goal,
		Budgets:       budgets,
		PolicyProfile: req.PolicyProfile,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := a.Store.Append(c.Request.Context(), loopID, 0, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"loop_id": loopID,
		"state":   sr.LoopCreated,
		"budgets": budgets,
	})
}

func (a *API) GetLoop(c *gin.Context) {
	loop, err := a.Reads.GetLoop(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loop)
}

func (a *API) ListLoops(c *gin.Context) {
	filter := sr.LoopFilter{State: sr.LoopState(c.Query("state"))}
	loops, err := a.Reads.ListLoops(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loops": loops})
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

// transitionLoop builds a handler for one loop state transition. State and
// version come from the loop's own stream, not the projection, so a lagging
// read model cannot corrupt the state machine.
func (a *API) transitionLoop(transition sr.LoopTransition) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeBadRequest(c, err)
				return
			}
		}
		loopID := c.Param("id")
		state, version, ok := a.loopStream(c, loopID)
		if !ok {
			return
		}
		next, err := sr.NextLoopState(state, transition)
		if err != nil {
			writeError(c, err)
			return
		}
		e, err := sr.NewEvent(loopID, version+1, sr.EventForLoopTransition(transition),
			actorFrom(c), sr.LoopTransitionPayload{Reason: req.Reason})
		if err != nil {
			writeError(c, err)
			return
		}
		if _, err := a.Store.Append(c.Request.Context(), loopID, version, []sr.EventEnvelope{e}); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"loop_id": loopID, "state": next})
	}
}

// StartIteration is the governor-gated iteration start: the governor
// evaluates every precondition and either starts the iteration or reports
// why it will not.
func (a *API) StartIteration(c *gin.Context) {
	loopID := c.Param("id")
	if _, err := a.Reads.GetLoop(c.Request.Context(), loopID); err != nil {
		writeError(c, err)
		return
	}
	started, err := a.Governor.EvaluateAndStart(c.Request.Context(), loopID)
	if err != nil {
		writeError(c, err)
		return
	}
	decisions, err := a.Reads.ListGovernorDecisions(c.Request.Context(), loopID, 1)
	if err != nil {
		writeError(c, err)
		return
	}
	var decision *sr.GovernorDecisionRecord
	if len(decisions) > 0 {
		decision = &decisions[0]
	}
	if !started {
		writePreconditionFailed(c, "iteration not started", decision)
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true, "decision": decision})
}

func (a *API) ListStopTriggers(c *gin.Context) {
	unresolvedOnly := c.Query("unresolved") == "true"
	triggers, err := a.Reads.ListStopTriggers(c.Request.Context(), c.Param("id"), unresolvedOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stop_triggers": triggers})
}

func (a *API) ListGovernorDecisions(c *gin.Context) {
	decisions, err := a.Reads.ListGovernorDecisions(c.Request.Context(), c.Param("id"), 0)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}
