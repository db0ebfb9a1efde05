package rest_api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
)

type storeEvidenceRequest struct {
	Manifest json.RawMessage   `json:"manifest" binding:"required"`
	Blobs    map[string]string `json:"blobs"` // name -> base64 content
}

// StoreEvidence validates a gate packet manifest, stores it with its blobs
// content-addressed, and records EvidenceBundleRecorded on the run stream.
func (a *API) StoreEvidence(c *gin.Context) {
	var req storeEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	var manifest evidence.Manifest
	if err := json.Unmarshal(req.Manifest, &manifest); err != nil {
		writeBadRequest(c, fmt.Errorf("manifest is not valid JSON, details: %v", err))
		return
	}
	if err := manifest.Validate(); err != nil {
		writeBadRequest(c, err)
		return
	}

	blobs := make(map[string][]byte, len(req.Blobs))
	for name, encoded := range req.Blobs {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			writeBadRequest(c, fmt.Errorf("blob %s is not valid base64, details: %v", name, err))
			return
		}
		blobs[name] = data
	}

	// Canonical form so identical content always lands at the same hash.
	canonical, err := evidence.CanonicalJSON(&manifest)
	if err != nil {
		writeError(c, err)
		return
	}
	contentHash, err := a.Evidence.Store(c.Request.Context(), canonical, blobs)
	if err != nil {
		writeError(c, err)
		return
	}

	size := int64(len(canonical))
	for _, blob := range blobs {
		size += int64(len(blob))
	}

	version, err := a.streamVersion(c, manifest.RunID)
	if err != nil {
		writeError(c, err)
		return
	}
	e, err := sr.NewEvent(manifest.RunID, version+1, sr.EventEvidenceBundleRecorded, actorFrom(c),
		sr.EvidenceBundleRecordedPayload{
			BundleHash:  contentHash,
			RunID:       manifest.RunID,
			CandidateID: manifest.CandidateID,
			Verdict:     string(manifest.Verdict),
			SizeBytes:   size,
		})
	if err != nil {
		writeError(c, err)
		return
	}
	e.Refs = []sr.TypedRef{{Kind: sr.RefKindEvidenceBundle, ID: contentHash, Rel: "records"}}
	if _, err := a.Store.Append(c.Request.Context(), manifest.RunID, version, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"content_hash": contentHash,
		"size_bytes":   size,
		"media_type":   "application/json",
		"stored_at":    a.now(),
	})
}

func (a *API) GetEvidence(c *gin.Context) {
	manifest, err := a.Evidence.Retrieve(c.Request.Context(), c.Param("hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", manifest)
}

// VerifyEvidence re-validates a stored bundle: manifest well-formedness,
// declared-versus-computed verdict, and every artifact blob's content hash.
func (a *API) VerifyEvidence(c *gin.Context) {
	contentHash := c.Param("hash")
	raw, err := a.Evidence.Retrieve(c.Request.Context(), contentHash)
	if err != nil {
		writeError(c, err)
		return
	}

	var issues []string
	var manifest evidence.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		issues = append(issues, fmt.Sprintf("manifest unparseable: %v", err))
	} else {
		if err := manifest.Validate(); err != nil {
			issues = append(issues, err.Error())
		}
		for _, artifact := range manifest.Artifacts {
			blob, err := a.Evidence.RetrieveBlob(c.Request.Context(), contentHash, artifact.Name)
			if err != nil {
				issues = append(issues, fmt.Sprintf("artifact %s missing: %v", artifact.Name, err))
				continue
			}
			if computed := sr.ContentHash(evidence.HashBlob(blob)); computed != artifact.ContentHash {
				issues = append(issues, fmt.Sprintf(
					"artifact %s hash mismatch: manifest %s, stored %s",
					artifact.Name, artifact.ContentHash, computed))
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"bundle_hash": contentHash,
		"verdict":     manifest.Verdict,
		"valid":       len(issues) == 0,
		"issues":      issues,
	})
}

// GetRunEvidence resolves a run's recorded bundle and returns its manifest.
func (a *API) GetRunEvidence(c *gin.Context) {
	run, err := a.Reads.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if run.BundleHash == "" {
		writeError(c, sr.Error{
			Code:     sr.EvidenceNotFound,
			Err:      fmt.Errorf("run %s has no evidence bundle", run.RunID),
			UserData: run.RunID,
		})
		return
	}
	manifest, err := a.Evidence.Retrieve(c.Request.Context(), run.BundleHash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", manifest)
}
