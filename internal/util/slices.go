package util

// MapSlice maps a slice of T into a slice of R.
func MapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, len(in))
	for i := range in {
		out[i] = fn(in[i])
	}

	return out
}
