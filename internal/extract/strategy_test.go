package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fundwatch/etp-tracker/internal/model"
)

func TestStrategyForForm(t *testing.T) {
	tests := []struct {
		form string
		want Strategy
	}{
		{"485BXT", StrategyHeaderOnly},
		{"497J", StrategyHeaderOnly},
		{"EFFECT", StrategyHeaderOnly},
		{"485BPOS", StrategyFullStructured},
		{"485APOS", StrategyFull},
		{"497", StrategyFull},
		{"497K", StrategyFull},
		// Unknown codes degrade to the most thorough read, never crash.
		{"S-1", StrategyFull},
		{"N-1A", StrategyFull},
		{"BOGUS-99", StrategyFull},
		{"", StrategyFull},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StrategyForForm(tt.form), tt.form)
	}
}

func TestStrategyForHonorsFilerOverride(t *testing.T) {
	doc := model.Document{Form: "485BPOS"}

	assert.Equal(t, StrategyFullStructured, StrategyFor(model.Filer{}, doc))
	assert.Equal(t, StrategyHeaderOnly,
		StrategyFor(model.Filer{ForceStrategy: "header_only"}, doc))
	assert.Equal(t, StrategyFull,
		StrategyFor(model.Filer{ForceStrategy: "full"}, doc))

	// Unrecognized overrides fall back to the table.
	assert.Equal(t, StrategyFullStructured,
		StrategyFor(model.Filer{ForceStrategy: "everything"}, doc))
}
