package masking

import "strings"

const maskToken = "****"

// Rule rewrites a single string value.
type Rule func(string) string

// Policy maps lower-case metadata keys to the rule applied to their values.
type Policy map[string]Rule

// DefaultPolicy covers credentials and message recipients.
func DefaultPolicy() Policy {
	return Policy{
		"api_key":        MaskSecret,
		"access_token":   MaskSecret,
		"secret":         MaskSecret,
		"webhook_secret": MaskSecret,
		"authorization":  MaskSecret,
		"recipient":      MaskRecipient,
		"to":             MaskRecipient,
		"email":          MaskRecipient,
		"phone":          MaskRecipient,
	}
}

// Apply returns a masked copy of input. Keys match case-insensitively at any
// depth; a matched key masks every string beneath it.
func (p Policy) Apply(input map[string]any) map[string]any {
	if len(input) == 0 {
		return input
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		if rule, ok := p[strings.ToLower(key)]; ok {
			out[key] = mask(value, rule)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			value = p.Apply(nested)
		}
		out[key] = value
	}
	return out
}

func mask(value any, rule Rule) any {
	switch v := value.(type) {
	case string:
		return rule(v)
	case []string:
		masked := make([]string, len(v))
		for i, s := range v {
			masked[i] = rule(s)
		}
		return masked
	case []any:
		masked := make([]any, len(v))
		for i, item := range v {
			masked[i] = mask(item, rule)
		}
		return masked
	case map[string]any:
		masked := make(map[string]any, len(v))
		for k, item := range v {
			masked[k] = mask(item, rule)
		}
		return masked
	}
	return value
}

// MaskSecret keeps a key prefix such as "cc_live_" and the last four
// characters.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	prefix, rest := "", value
	if i := strings.LastIndex(value, "_"); i == len(value)-1 {
		// nothing after the separator to anchor on
		return maskToken
	} else if i >= 0 {
		prefix, rest = value[:i+1], value[i+1:]
	}
	if len(rest) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + rest[len(rest)-4:]
}

// MaskRecipient hides an email local part or all but the last four digits of a
// phone number.
func MaskRecipient(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if at := strings.LastIndex(value, "@"); at > 0 {
		return value[:1] + maskToken + value[at:]
	}
	lead := ""
	if strings.HasPrefix(value, "+") {
		lead, value = "+", value[1:]
	}
	if len(value) <= 4 {
		return lead + maskToken
	}
	return lead + maskToken + value[len(value)-4:]
}
