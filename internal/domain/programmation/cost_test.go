package programmation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  int
	}{
		{name: "edc off", flags: Flags{EDCOff: true}, want: 5},
		{name: "egr off", flags: Flags{EGROff: true}, want: 5},
		{name: "fap off", flags: Flags{FAPOff: true}, want: 5},
		{name: "egr and fap off", flags: Flags{EGROff: true, FAPOff: true}, want: 5},
		{name: "ethanol", flags: Flags{Ethanol: true}, want: 10},
		{name: "stage one", flags: Flags{StageOne: true}, want: 10},
		{name: "ethanol and stage one", flags: Flags{Ethanol: true, StageOne: true}, want: 10},
		{name: "egr fap ethanol stage one", flags: Flags{EGROff: true, FAPOff: true, Ethanol: true, StageOne: true}, want: 15},
		{name: "all five", flags: Flags{EDCOff: true, EGROff: true, FAPOff: true, Ethanol: true, StageOne: true}, want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cost(tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCost_Unpriced(t *testing.T) {
	priced := 0
	for mask := range 32 {
		f := Flags{
			EDCOff:   mask&1 != 0,
			EGROff:   mask&2 != 0,
			FAPOff:   mask&4 != 0,
			Ethanol:  mask&8 != 0,
			StageOne: mask&16 != 0,
		}
		_, err := Cost(f)
		if err == nil {
			priced++
			continue
		}
		var unpriced *UnpricedCombinationError
		require.ErrorAs(t, err, &unpriced)
		assert.Equal(t, f, unpriced.Flags)
	}
	assert.Equal(t, 9, priced)
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "{}", Flags{}.String())
	assert.Equal(t, "{egrOff,stageOne}", Flags{EGROff: true, StageOne: true}.String())
}
