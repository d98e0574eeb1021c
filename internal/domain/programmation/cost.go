// Package programmation prices vehicle ECU modification requests in credits.
package programmation

import (
	"fmt"
	"strings"
)

// Flags is the set of modifications requested for one vehicle file.
type Flags struct {
	EDCOff   bool
	EGROff   bool
	FAPOff   bool
	Ethanol  bool
	StageOne bool
}

func (f Flags) String() string {
	var names []string
	for _, n := range []struct {
		set  bool
		name string
	}{
		{f.EDCOff, "edcOff"},
		{f.EGROff, "egrOff"},
		{f.FAPOff, "fapOff"},
		{f.Ethanol, "ethanol"},
		{f.StageOne, "stageOne"},
	} {
		if n.set {
			names = append(names, n.name)
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// UnpricedCombinationError is returned for flag sets with no price.
type UnpricedCombinationError struct {
	Flags Flags
}

func (e *UnpricedCombinationError) Error() string {
	return fmt.Sprintf("no price for modification set %s", e.Flags)
}

// costs lists every priced combination. The mapping is not additive; any
// set missing here is unpriced.
var costs = map[Flags]int{
	{EDCOff: true}:               5,
	{EGROff: true}:               5,
	{FAPOff: true}:               5,
	{EGROff: true, FAPOff: true}: 5,

	{Ethanol: true}:                 10,
	{StageOne: true}:                10,
	{Ethanol: true, StageOne: true}: 10,

	{EGROff: true, FAPOff: true, Ethanol: true, StageOne: true}: 15,

	{EDCOff: true, EGROff: true, FAPOff: true, Ethanol: true, StageOne: true}: 20,
}

// Cost returns the credit cost of f.
func Cost(f Flags) (int, error) {
	c, ok := costs[f]
	if !ok {
		return 0, &UnpricedCombinationError{Flags: f}
	}
	return c, nil
}
