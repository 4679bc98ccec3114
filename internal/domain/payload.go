package domain

// DecodePayload builds the typed payload for kind using unmarshal, which
// decodes the wire form (JSON at the HTTP boundary, CBOR at rest) into the
// pointer it is given.
func DecodePayload(kind TxKind, unmarshal func(target any) error) (Payload, error) {
	switch kind {
	case TxEvidenceSubmit:
		var p EvidenceSubmitPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TxEvidenceValidate:
		var p EvidenceValidatePayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TxCaseCreate:
		var p CaseCreatePayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TxCaseUpdate:
		var p CaseUpdatePayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TxArtifactBind:
		var p ArtifactBindPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, NewValidationError("type", "unknown transaction type")
	}
}
