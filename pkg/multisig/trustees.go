package multisig

import (
	"encoding/json"
	"slices"

	"github.com/relves/trustledger/pkg/types"
)

// trusteeSet is stored as one sorted record.
type trusteeSet struct {
	Members []types.Account `json:"members"`
}

func (s *trusteeSet) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

func (s *trusteeSet) Deserialize(data []byte) error {
	return json.Unmarshal(data, s)
}

func (s *trusteeSet) contains(a types.Account) bool {
	_, found := slices.BinarySearch(s.Members, a)
	return found
}

func (s *trusteeSet) add(a types.Account) bool {
	i, found := slices.BinarySearch(s.Members, a)
	if found {
		return false
	}
	s.Members = slices.Insert(s.Members, i, a)
	return true
}

func (s *trusteeSet) remove(a types.Account) bool {
	i, found := slices.BinarySearch(s.Members, a)
	if !found {
		return false
	}
	s.Members = slices.Delete(s.Members, i, i+1)
	return true
}

// quorum is a strict majority of the current set.
func (s *trusteeSet) quorum() uint64 {
	return uint64(len(s.Members))/2 + 1
}
