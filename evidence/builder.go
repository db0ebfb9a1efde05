package evidence

import (
	"time"

	sr "github.com/solver-ralph/sr"
)

// Builder assembles a manifest plus its blobs as a run progresses. Finalize
// computes the verdict, validates, and returns the manifest together with the
// accumulated blobs ready for storage.
type Builder struct {
	manifest Manifest
	blobs    map[string][]byte
}

func NewBuilder(runID, candidateID, suiteID, suiteHash string) *Builder {
	return &Builder{
		manifest: Manifest{
			Version:         ManifestVersion,
			ArtifactType:    ArtifactType,
			BundleID:        sr.NewBundleID(),
			RunID:           runID,
			CandidateID:     candidateID,
			OracleSuiteID:   suiteID,
			OracleSuiteHash: suiteHash,
		},
		blobs: make(map[string][]byte),
	}
}

func (b *Builder) SetWindow(startedAt, completedAt time.Time) *Builder {
	b.manifest.RunStartedAt = startedAt.UTC()
	b.manifest.RunCompletedAt = completedAt.UTC()
	return b
}

func (b *Builder) SetEnvironmentFingerprint(fingerprint string) *Builder {
	b.manifest.EnvironmentFingerprint = fingerprint
	return b
}

func (b *Builder) AddResult(result OracleResult) *Builder {
	b.manifest.Results = append(b.manifest.Results, result)
	return b
}

// AddArtifact stores a named blob and records its reference in the manifest.
func (b *Builder) AddArtifact(name, contentType, description string, data []byte) *Builder {
	b.blobs[name] = data
	b.manifest.Artifacts = append(b.manifest.Artifacts, ArtifactRef{
		Name:        name,
		ContentHash: sr.ContentHash(HashBlob(data)),
		ContentType: contentType,
		Size:        int64(len(data)),
		Description: description,
	})
	return b
}

func (b *Builder) SetMetadata(key, value string) *Builder {
	if b.manifest.Metadata == nil {
		b.manifest.Metadata = make(map[string]string)
	}
	b.manifest.Metadata[key] = value
	return b
}

// Finalize computes the verdict from the accumulated results, validates the
// manifest, and returns it with the blobs. The builder must not be reused.
func (b *Builder) Finalize() (*Manifest, map[string][]byte, error) {
	b.manifest.Verdict = ComputeVerdict(b.manifest.Results)
	if b.manifest.RunCompletedAt.IsZero() {
		b.manifest.RunCompletedAt = time.Now().UTC()
	}
	if b.manifest.RunStartedAt.IsZero() {
		b.manifest.RunStartedAt = b.manifest.RunCompletedAt
	}
	if err := b.manifest.Validate(); err != nil {
		return nil, nil, err
	}
	return &b.manifest, b.blobs, nil
}
