// Package auditpolicy loads the Proof-of-Audit policy from a YAML file.
package auditpolicy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"custodia/internal/domain"

	"gopkg.in/yaml.v3"
)

type file struct {
	Threshold        *float64            `yaml:"threshold"`
	MaxClockSkew     string              `yaml:"max_clock_skew"`
	Disabled         []string            `yaml:"disabled"`
	RequiredMetadata map[string][]string `yaml:"required_metadata"`
	CaseCreatorRoles []string            `yaml:"case_creator_roles"`
}

// Load reads path and overlays it on domain.DefaultAuditPolicy. An empty
// path yields the default policy.
func Load(path string) (domain.AuditPolicy, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultAuditPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AuditPolicy{}, fmt.Errorf("audit policy read: %w", err)
	}
	policy, err := Parse(data)
	if err != nil {
		return domain.AuditPolicy{}, fmt.Errorf("audit policy %s: %w", path, err)
	}
	return policy, nil
}

func Parse(data []byte) (domain.AuditPolicy, error) {
	policy := domain.DefaultAuditPolicy()
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return domain.AuditPolicy{}, fmt.Errorf("unmarshal: %w", err)
	}

	if f.Threshold != nil {
		policy.Threshold = *f.Threshold
	}
	if f.MaxClockSkew != "" {
		skew, err := time.ParseDuration(f.MaxClockSkew)
		if err != nil {
			return domain.AuditPolicy{}, domain.NewValidationError("max_clock_skew", err.Error())
		}
		policy.MaxClockSkew = skew
	}
	policy.Disabled = append(policy.Disabled, f.Disabled...)
	for kind, keys := range f.RequiredMetadata {
		policy.RequiredMetadata[domain.TxKind(kind)] = append([]string(nil), keys...)
	}
	if len(f.CaseCreatorRoles) > 0 {
		policy.CaseCreatorRoles = append([]string(nil), f.CaseCreatorRoles...)
	}
	if err := policy.Validate(); err != nil {
		return domain.AuditPolicy{}, err
	}
	return policy, nil
}
