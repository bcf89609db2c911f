package contracts

import (
	"github.com/aristath/riskcore/internal/domain"
)

// RollDirection selects which leg is sold and which is bought.
type RollDirection string

const (
	// LongRoll closes a long front position and reopens in the back month.
	LongRoll RollDirection = "long_roll"
	// ShortRoll closes a short front position and reopens in the back month.
	ShortRoll RollDirection = "short_roll"
)

// SpreadLeg is one leg of a calendar spread.
type SpreadLeg struct {
	Action        string `json:"action"` // BUY | SELL
	ContractMonth string `json:"contract_month"`
}

// CalendarSpread is the two-legged combination order ("BAG") used to roll a
// futures position between months. By spread convention the combination
// itself is always bought; direction is expressed in the legs.
type CalendarSpread struct {
	Symbol    string        `json:"symbol"`
	Action    string        `json:"action"` // always BUY on the BAG
	Direction RollDirection `json:"direction"`
	Legs      [2]SpreadLeg  `json:"legs"`
}

// BuildRoll constructs a calendar spread for rolling a position from the
// front month to the back month.
//
//	long_roll:  SELL front + BUY back
//	short_roll: BUY front + SELL back
func (c *Catalog) BuildRoll(symbol, frontMonth, backMonth string, direction RollDirection) (*CalendarSpread, error) {
	spec := c.Lookup(symbol)
	if spec == nil {
		return nil, domain.NewValidation("unknown futures symbol %q", symbol)
	}
	if !validContractMonth(frontMonth) || !validContractMonth(backMonth) {
		return nil, domain.NewValidation("contract months must be YYYYMM, got front=%q back=%q", frontMonth, backMonth)
	}
	if frontMonth >= backMonth {
		return nil, domain.NewValidation("front month %s must precede back month %s", frontMonth, backMonth)
	}

	var legs [2]SpreadLeg
	switch direction {
	case LongRoll:
		legs = [2]SpreadLeg{
			{Action: "SELL", ContractMonth: frontMonth},
			{Action: "BUY", ContractMonth: backMonth},
		}
	case ShortRoll:
		legs = [2]SpreadLeg{
			{Action: "BUY", ContractMonth: frontMonth},
			{Action: "SELL", ContractMonth: backMonth},
		}
	default:
		return nil, domain.NewValidation("unknown roll direction %q", direction)
	}

	return &CalendarSpread{
		Symbol:    spec.Symbol,
		Action:    "BUY",
		Direction: direction,
		Legs:      legs,
	}, nil
}

// validContractMonth checks the YYYYMM shape without parsing a full date.
func validContractMonth(m string) bool {
	if len(m) != 6 {
		return false
	}
	for _, r := range m {
		if r < '0' || r > '9' {
			return false
		}
	}
	mm := m[4:]
	return mm >= "01" && mm <= "12"
}
