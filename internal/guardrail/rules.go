package guardrail

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultRules returns the rule list in evaluation order.
func DefaultRules(restrictedContacts []string, monetaryThreshold float64) []Rule {
	return []Rule{
		NewRestrictedContactRule(restrictedContacts),
		&LegalContentRule{},
		&MonetaryThresholdRule{Threshold: monetaryThreshold},
		&SensitiveAnnotationRule{},
	}
}

// payload fields scanned for contact identities.
var contactFields = []string{"from", "to", "contact", "email", "recipient", "requester", "customer_email"}

// payload fields scanned for free text.
var textFields = []string{"subject", "title", "body", "text", "description", "content", "message", "summary"}

// payload fields scanned for monetary amounts.
var amountFields = []string{"amount", "total", "value", "refund_amount", "price"}

// RestrictedContactRule denies events that reference a contact on the
// restricted list. Matching is case-insensitive on the full identity.
type RestrictedContactRule struct {
	restricted map[string]struct{}
}

func NewRestrictedContactRule(contacts []string) *RestrictedContactRule {
	restricted := make(map[string]struct{}, len(contacts))
	for _, c := range contacts {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			restricted[c] = struct{}{}
		}
	}
	return &RestrictedContactRule{restricted: restricted}
}

func (r *RestrictedContactRule) Name() string { return "restricted_contact" }

func (r *RestrictedContactRule) Check(in Input) Verdict {
	if len(r.restricted) == 0 {
		return allow()
	}
	for _, field := range contactFields {
		value, ok := in.Event.Payload[field].(string)
		if !ok {
			continue
		}
		if _, hit := r.restricted[strings.ToLower(strings.TrimSpace(value))]; hit {
			return deny(r.Name(), fmt.Sprintf("contact %q is on the restricted list", value))
		}
	}
	return allow()
}

// legalTerms flag content that must go to a human instead of the agent.
var legalTerms = []string{
	"lawsuit", "legal action", "attorney", "lawyer", "subpoena",
	"cease and desist", "litigation", "court order", "gdpr request",
	"data deletion request",
}

// LegalContentRule denies events whose text mentions legal proceedings.
type LegalContentRule struct{}

func (r *LegalContentRule) Name() string { return "legal_content" }

func (r *LegalContentRule) Check(in Input) Verdict {
	for _, field := range textFields {
		value, ok := in.Event.Payload[field].(string)
		if !ok {
			continue
		}
		lowered := strings.ToLower(value)
		for _, term := range legalTerms {
			if strings.Contains(lowered, term) {
				return deny(r.Name(), fmt.Sprintf("content mentions %q", term))
			}
		}
	}
	return allow()
}

// MonetaryThresholdRule denies events that involve amounts above the
// configured threshold. Amounts at or below the threshold pass.
type MonetaryThresholdRule struct {
	Threshold float64
}

func (r *MonetaryThresholdRule) Name() string { return "monetary_threshold" }

func (r *MonetaryThresholdRule) Check(in Input) Verdict {
	if r.Threshold <= 0 {
		return allow()
	}
	for _, field := range amountFields {
		amount, ok := numericPayloadValue(in.Event.Payload[field])
		if !ok {
			continue
		}
		if amount > r.Threshold {
			return deny(r.Name(), fmt.Sprintf("amount %.2f exceeds threshold %.2f", amount, r.Threshold))
		}
	}
	return allow()
}

// numericPayloadValue handles the types JSON decoding produces for numbers,
// plus numeric strings from form-style producers.
func numericPayloadValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// SensitiveAnnotationRule denies events the classifier flagged as involving
// a VIP or financial matters. These require human approval.
type SensitiveAnnotationRule struct{}

func (r *SensitiveAnnotationRule) Name() string { return "sensitive_annotation" }

func (r *SensitiveAnnotationRule) Check(in Input) Verdict {
	if in.Classification == nil {
		return allow()
	}
	if in.Classification.InvolvesVIP {
		return deny(r.Name(), "event involves a VIP contact")
	}
	if in.Classification.InvolvesFinancial {
		return deny(r.Name(), "event involves financial operations")
	}
	return allow()
}
