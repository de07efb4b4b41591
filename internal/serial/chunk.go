package serial

// chunkBytes splits p into consecutive slices of at most maxBytes. The slices
// share p's backing array. Returns nil for empty input. A non-positive limit
// means no splitting.
func chunkBytes(p []byte, maxBytes int) [][]byte {
	if len(p) == 0 {
		return nil
	}
	if maxBytes <= 0 {
		return [][]byte{p}
	}
	chunks := make([][]byte, 0, (len(p)+maxBytes-1)/maxBytes)
	for len(p) > 0 {
		n := min(maxBytes, len(p))
		chunks = append(chunks, p[:n])
		p = p[n:]
	}
	return chunks
}
