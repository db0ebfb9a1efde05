package rest_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
)

type createCandidateRequest struct {
	IterationID string `json:"iteration_id" binding:"required"`
	GitSHA      string `json:"git_sha"`
	ContentHash string `json:"content_hash" binding:"required"`
	Description string `json:"description"`
}

// CreateCandidate materializes a candidate produced by an iteration. The
// candidate id carries its provenance (git sha, content hash).
func (a *API) CreateCandidate(c *gin.Context) {
	var req createCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	iteration, err := a.Reads.GetIteration(c.Request.Context(), req.IterationID)
	if err != nil {
		writeError(c, err)
		return
	}

	candidateID := sr.NewCandidateID(req.GitSHA, req.ContentHash)
	e, err := sr.NewEvent(candidateID, 1, sr.EventCandidateMaterialized, actorFrom(c),
		sr.CandidateMaterializedPayload{
			CandidateID: candidateID,
			LoopID:      iteration.LoopID,
			IterationID: req.IterationID,
			Description: req.Description,
		})
	if err != nil {
		writeError(c, err)
		return
	}
	e.Refs = []sr.TypedRef{
		{Kind: sr.RefKindIteration, ID: req.IterationID, Rel: "produced_by"},
		{Kind: sr.RefKindLoop, ID: iteration.LoopID, Rel: "governs"},
	}
	if _, err := a.Store.Append(c.Request.Context(), candidateID, 0, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"candidate_id": candidateID,
		"loop_id":      iteration.LoopID,
		"iteration_id": req.IterationID,
	})
}

func (a *API) GetCandidate(c *gin.Context) {
	candidate, err := a.Reads.GetCandidate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, candidate)
}

// ListCandidates returns the candidates materialized by one iteration.
func (a *API) ListCandidates(c *gin.Context) {
	iteration, err := a.Reads.GetIteration(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	candidates, err := a.Reads.ListCandidates(c.Request.Context(), iteration.LoopID)
	if err != nil {
		writeError(c, err)
		return
	}
	filtered := candidates[:0:0]
	for _, candidate := range candidates {
		if candidate.IterationID == iteration.IterationID {
			filtered = append(filtered, candidate)
		}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": filtered})
}
