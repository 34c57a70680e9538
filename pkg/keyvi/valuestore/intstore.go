package valuestore

import "strconv"

// IntStore implements value_store_type=2: the handle *is* the value, so
// there is no backing buffer and no minimization (spec §4.4: "the value
// is the handle").
type IntStore struct{}

func NewIntStore() *IntStore { return &IntStore{} }

func (s *IntStore) Type() Type { return Int }

func (s *IntStore) AddValue(value uint64) uint64 {
	return value
}

func (s *IntStore) Decode(handle uint64) (string, error) {
	return strconv.FormatUint(handle, 10), nil
}

// IntWeightStore implements value_store_type=6: like [IntStore], but
// additionally carries a per-key weight the compiler writes into the
// sparse array's inner-weight slot rather than the handle itself.
type IntWeightStore struct{}

func NewIntWeightStore() *IntWeightStore { return &IntWeightStore{} }

func (s *IntWeightStore) Type() Type { return IntWeight }

// AddValue returns (handle, weight): handle is stored as the state
// value, weight is stored separately by the compiler (spec §4.4).
func (s *IntWeightStore) AddValue(value uint64, weight uint32) (handle uint64, w uint32) {
	return value, weight
}

func (s *IntWeightStore) Decode(handle uint64) (string, error) {
	return strconv.FormatUint(handle, 10), nil
}
