// pkg/types/records.go
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// PollType is the governance action a poll proposes.
type PollType uint8

const (
	PollNull PollType = iota
	PollChangeCreator
	PollDeleteAddress
	PollAddAddress
	PollUnfreeze
)

var pollTypeNames = map[PollType]string{
	PollNull:          "NULL",
	PollChangeCreator: "CHANGE_CREATOR",
	PollDeleteAddress: "DELETE_ADDRESS",
	PollAddAddress:    "ADD_ADDRESS",
	PollUnfreeze:      "UNFREEZE",
}

func (t PollType) String() string {
	if name, ok := pollTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PollType(%d)", uint8(t))
}

// ParsePollType accepts the symbolic names used in events and scripts.
func ParsePollType(s string) (PollType, error) {
	for t, name := range pollTypeNames {
		if name == s {
			return t, nil
		}
	}
	return PollNull, fmt.Errorf("unknown poll type %q", s)
}

// Decision is a trustee's vote.
type Decision uint8

const (
	DecisionNull Decision = iota
	Approved
	Declined
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "APPROVED"
	case Declined:
		return "DECLINED"
	default:
		return "NULL"
	}
}

// ParseDecision accepts APPROVED or DECLINED.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "APPROVED":
		return Approved, nil
	case "DECLINED":
		return Declined, nil
	}
	return DecisionNull, fmt.Errorf("unknown decision %q", s)
}

// Poll is a proposed governance action. Votes are stored alongside it,
// keyed by voter.
type Poll struct {
	Index     uint64   `json:"index"`
	Type      PollType `json:"type"`
	Target    Account  `json:"target"`
	Creator   Account  `json:"creator"`
	CreatedAt Tick     `json:"created_at"`
	Approvals uint64   `json:"approvals"`
	Declines  uint64   `json:"declines"`
	Resolved  bool     `json:"resolved"`
}

// Serialize converts a Poll to JSON bytes for storage.
func (p *Poll) Serialize() ([]byte, error) {
	return json.Marshal(p)
}

// Deserialize populates a Poll from JSON bytes.
func (p *Poll) Deserialize(data []byte) error {
	return json.Unmarshal(data, p)
}

// Vest is a time-locked grant. The zero Vest means no active record.
type Vest struct {
	Amount     *big.Int `json:"amount"`
	UnlockTick Tick     `json:"unlock_tick"`
}

func (v Vest) IsSet() bool {
	return IsPositive(v.Amount)
}

func (v *Vest) Serialize() ([]byte, error) {
	return json.Marshal(v)
}

func (v *Vest) Deserialize(data []byte) error {
	return json.Unmarshal(data, v)
}

// HybridLink configures the burn-to-mint conversion.
type HybridLink struct {
	Collection Account  `json:"collection"`
	TokenID    uint64   `json:"token_id"`
	Ratio      *big.Int `json:"ratio"`
}

func (h HybridLink) IsSet() bool {
	return !h.Collection.IsNull() && h.TokenID != 0 && IsPositive(h.Ratio)
}

func (h *HybridLink) Serialize() ([]byte, error) {
	return json.Marshal(h)
}

func (h *HybridLink) Deserialize(data []byte) error {
	return json.Unmarshal(data, h)
}
