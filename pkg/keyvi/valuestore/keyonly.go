package valuestore

// KeyOnlyStore implements the value_store_type=1 codec: no values are
// stored at all, every accepting state carries a dummy handle, and
// decoding always yields the empty string (spec §4.4).
type KeyOnlyStore struct{}

func NewKeyOnlyStore() *KeyOnlyStore { return &KeyOnlyStore{} }

func (s *KeyOnlyStore) Type() Type { return KeyOnly }

// AddValue ignores its argument and always returns the same dummy
// handle; key-only stores never participate in minimization (spec §4.4).
func (s *KeyOnlyStore) AddValue(_ string) uint64 {
	return 0
}

func (s *KeyOnlyStore) Decode(uint64) (string, error) {
	return "", nil
}
