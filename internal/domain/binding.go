package domain

// ArtifactBindingIdentifier links an artifact to a case and a submitting
// party. It is never edited; a correction mints Version+1 pointing at the
// previous ImmutableHash.
type ArtifactBindingIdentifier struct {
	ArtifactID    string `json:"artifact_id"`
	CaseBinding   string `json:"case_binding"`
	UserBinding   string `json:"user_binding"`
	CreatedAt     string `json:"created_at"`
	ImmutableHash string `json:"immutable_hash"`
	Version       int    `json:"version"`
	PreviousHash  string `json:"previous_hash,omitempty"`
}

func (b ArtifactBindingIdentifier) IsCorrection() bool {
	return b.Version > 1
}
