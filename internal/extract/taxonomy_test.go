package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ixbrlFixture = `<html><body>
<ix:nonNumeric contextRef="c1" name="dei:EntityRegistrantName">Example ETF Trust</ix:nonNumeric>
<ix:nonNumeric contextRef="c1" name="dei:DocumentType">485BPOS</ix:nonNumeric>
<ix:nonNumeric contextRef="c1" name="oef:ProspectusDate"><span>March 15, 2026</span></ix:nonNumeric>
<ix:nonNumeric contextRef="c2" name="oef:ProspectusDate">January 1, 2020</ix:nonNumeric>
<ix:nonFraction contextRef="c1" name="oef:ExpensesOverAssets" unitRef="pct">0.95</ix:nonFraction>
<ix:nonFraction contextRef="c1" name="oef:ManagementFeesOverAssets" unitRef="pct"><b>0.75</b></ix:nonFraction>
<ix:nonFraction contextRef="c1" name="oef:NetExpensesOverAssets" unitRef="pct">0.85%</ix:nonFraction>
<ix:nonFraction contextRef="c1" name="oef:FeeWaiverOrReimbursementOverAssets" unitRef="pct">0.10%</ix:nonFraction>
</body></html>`

func TestParseStructuredFacts(t *testing.T) {
	facts := parseStructuredFacts(ixbrlFixture)
	require.False(t, facts.empty())

	assert.Equal(t, "Example ETF Trust", facts.RegistrantName)
	assert.Equal(t, "485BPOS", facts.DocumentType)

	// First occurrence wins for repeated concepts.
	require.NotNil(t, facts.ProspectusDate)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *facts.ProspectusDate)

	require.NotNil(t, facts.ExpenseRatio)
	assert.InDelta(t, 0.95, *facts.ExpenseRatio, 1e-9)
	require.NotNil(t, facts.ManagementFee)
	assert.InDelta(t, 0.75, *facts.ManagementFee, 1e-9)
	require.NotNil(t, facts.NetExpenseRatio)
	assert.InDelta(t, 0.85, *facts.NetExpenseRatio, 1e-9)
	require.NotNil(t, facts.FeeWaiver)
	assert.InDelta(t, 0.10, *facts.FeeWaiver, 1e-9)
}

func TestParseStructuredFactsNoTags(t *testing.T) {
	facts := parseStructuredFacts("<html><body>plain prospectus</body></html>")
	assert.True(t, facts.empty())
	assert.False(t, hasInlineXBRL("<html></html>"))
	assert.True(t, hasInlineXBRL(`<ix:nonNumeric name="x">y</ix:nonNumeric>`))
}

func TestParseNumericFact(t *testing.T) {
	require.NotNil(t, parseNumericFact("1,250.5%"))
	assert.InDelta(t, 1250.5, *parseNumericFact("1,250.5%"), 1e-9)
	assert.Nil(t, parseNumericFact(""))
	assert.Nil(t, parseNumericFact("-"))
	assert.Nil(t, parseNumericFact("n/a"))
}
