package domain

// PolicyInput is what the optional compliance policy sees for one
// transaction of a batch under audit.
type PolicyInput struct {
	Transaction PolicyTransaction `json:"transaction"`
	Submitter   Identity          `json:"submitter"`
	BatchIndex  int               `json:"batch_index"`
	BatchSize   int               `json:"batch_size"`
}

type PolicyTransaction struct {
	Type        string            `json:"type"`
	ContentHash string            `json:"content_hash"`
	CreatedAt   string            `json:"created_at"`
	ArtifactID  string            `json:"artifact_id,omitempty"`
	CaseNumber  string            `json:"case_number,omitempty"`
	Metadata    map[string]string `json:"metadata"`
	Payload     Payload           `json:"payload"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id,omitempty"`
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
