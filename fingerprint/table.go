package fingerprint

import "fmt"

// ContentHasher is implemented by tabular values that can compute a digest
// of their logical content (column names, order, types and values).
type ContentHasher interface {
	ContentHash() (string, error)
}

// Table fingerprints dataframes through their own content hash primitive, so
// the result ignores in-memory layout but tracks logical content.
type Table struct{}

// Fingerprint implements Fingerprinter.
func (Table) Fingerprint(v any) (string, error) {
	h, ok := v.(ContentHasher)
	if !ok {
		return "", fmt.Errorf("%w: %T does not implement ContentHasher", ErrUnsupported, v)
	}
	content, err := h.ContentHash()
	if err != nil {
		return "", fmt.Errorf("failed to hash table content: %w", err)
	}
	return SumString(content), nil
}
