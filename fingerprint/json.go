package fingerprint

// JSON fingerprints mappings, lists and scalars by their canonical JSON
// encoding. Two maps with equal key/value pairs produce the same digest
// regardless of insertion order, while list order is significant.
type JSON struct{}

// Fingerprint implements Fingerprinter. A nil value maps to the digest of
// the empty string.
func (JSON) Fingerprint(v any) (string, error) {
	if v == nil {
		return SumString(""), nil
	}
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}
