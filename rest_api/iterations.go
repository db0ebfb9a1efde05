package rest_api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
)

type startIterationRequest struct {
	LoopID string `json:"loop_id" binding:"required"`
}

// RecordIterationStarted appends IterationStarted directly, bypassing the
// governor's precondition gate. Only SYSTEM actors (the governor itself, or
// operators impersonating it deliberately) may do this.
func (a *API) RecordIterationStarted(c *gin.Context) {
	actor := actorFrom(c)
	if actor.Kind != sr.ActorSystem {
		writeForbidden(c, "IterationStarted is SYSTEM-attributed; use /loops/:id/start")
		return
	}
	var req startIterationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	if _, err := a.Reads.GetLoop(c.Request.Context(), req.LoopID); err != nil {
		writeError(c, err)
		return
	}
	iterations, err := a.Reads.ListIterations(c.Request.Context(), req.LoopID)
	if err != nil {
		writeError(c, err)
		return
	}

	iterationID := sr.NewIterationID()
	sequence := len(iterations) + 1
	e, err := sr.NewEvent(iterationID, 1, sr.EventIterationStarted, actor, sr.IterationStartedPayload{
		IterationID: iterationID,
		LoopID:      req.LoopID,
		Sequence:    sequence,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	e.Refs = []sr.TypedRef{{Kind: sr.RefKindLoop, ID: req.LoopID, Rel: "parent"}}
	if _, err := a.Store.Append(c.Request.Context(), iterationID, 0, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"iteration_id": iterationID,
		"loop_id":      req.LoopID,
		"sequence":     sequence,
		"state":        sr.IterationStarted,
	})
}

func (a *API) GetIteration(c *gin.Context) {
	iteration, err := a.Reads.GetIteration(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, iteration)
}

func (a *API) ListIterations(c *gin.Context) {
	iterations, err := a.Reads.ListIterations(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"iterations": iterations})
}

type completeIterationRequest struct {
	Outcome     string `json:"outcome" binding:"required"`
	CandidateID string `json:"candidate_id"`
}

// CompleteIteration appends IterationCompleted. The outcome is COMPLETED or
// FAILED; completing twice is an invalid transition.
func (a *API) CompleteIteration(c *gin.Context) {
	var req completeIterationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	if req.Outcome != string(sr.IterationCompleted) && req.Outcome != string(sr.IterationFailed) {
		writeBadRequest(c, fmt.Errorf("outcome must be COMPLETED or FAILED, got %q", req.Outcome))
		return
	}

	iterationID := c.Param("id")
	iteration, err := a.Reads.GetIteration(c.Request.Context(), iterationID)
	if err != nil {
		writeError(c, err)
		return
	}
	if iteration.State != sr.IterationStarted {
		writeError(c, sr.TransitionError(string(iteration.State), "Complete"))
		return
	}
	version, err := a.streamVersion(c, iterationID)
	if err != nil {
		writeError(c, err)
		return
	}
	e, err := sr.NewEvent(iterationID, version+1, sr.EventIterationCompleted, actorFrom(c),
		sr.IterationCompletedPayload{
			IterationID: iterationID,
			LoopID:      iteration.LoopID,
			Outcome:     req.Outcome,
			CandidateID: req.CandidateID,
		})
	if err != nil {
		writeError(c, err)
		return
	}
	if req.CandidateID != "" {
		e.Refs = []sr.TypedRef{{Kind: sr.RefKindCandidate, ID: req.CandidateID, Rel: "produced"}}
	}
	if _, err := a.Store.Append(c.Request.Context(), iterationID, version, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"iteration_id": iterationID, "outcome": req.Outcome})
}
