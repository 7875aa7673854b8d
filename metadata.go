package otcs

// NameIndex maps a normalized attribute name to its flattened key
// ("{cat}_{attr}" or "{cat}_{set}_{row}_{child}"). It is built per request
// and never cached: attribute schemas can change between calls.
type NameIndex map[string]string

// Lookup returns the flattened key registered for an already normalized name.
func (idx NameIndex) Lookup(normalized string) (string, bool) {
	key, ok := idx[normalized]
	return key, ok
}
