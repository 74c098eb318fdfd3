package util

type strings string

const Strings strings = ""

func (strings) Nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// Coalesce returns the first non-empty string.
func (strings) Coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
