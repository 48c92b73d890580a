package bitrix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoolRendering(t *testing.T) {
	assert.Equal(t, "Y", BoolY(true))
	assert.Equal(t, "N", BoolY(false))
	assert.Equal(t, "1", Bool01(true))
	assert.Equal(t, "0", Bool01(false))
}

func TestFormatDateTime(t *testing.T) {
	ts := time.Date(2025, 11, 20, 14, 30, 5, 0, time.FixedZone("", 5*3600))

	assert.Equal(t, "2025-11-20T14:30:05+05:00", FormatDateTime(ts))
	assert.Equal(t, "20.11.2025 14:30:05", FormatDateTimeRU(ts))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "1953500|KZT", FormatMoney(1953500, "KZT"))
	assert.Equal(t, "99.9|USD", FormatMoney(99.9, "USD"))
}

func TestParseMoney(t *testing.T) {
	amount, currency, err := ParseMoney("1953500|KZT")
	require.NoError(t, err)
	assert.Equal(t, float64(1953500), amount)
	assert.Equal(t, "KZT", currency)

	amount, currency, err = ParseMoney("42.5")
	require.NoError(t, err)
	assert.Equal(t, 42.5, amount)
	assert.Empty(t, currency)

	_, _, err = ParseMoney("not-money|KZT")
	assert.Error(t, err)
}

func TestAliasPick(t *testing.T) {
	alias := Alias{First: "UF_CRM_STATUS_DEAL", Second: "ufCrmStatusDeal"}

	assert.Equal(t, "UF_CRM_STATUS_DEAL", alias.Pick(1))
	assert.Equal(t, "ufCrmStatusDeal", alias.Pick(2))
	assert.Equal(t, "UF_CRM_STATUS_DEAL", alias.Pick(0))

	// Missing second alias always falls back.
	partial := Alias{First: "TITLE"}
	assert.Equal(t, "TITLE", partial.Pick(2))
}

func TestParseBool(t *testing.T) {
	assert.True(t, ParseBool("Y"))
	assert.True(t, ParseBool("1"))
	assert.True(t, ParseBool(true))
	assert.True(t, ParseBool(float64(1)))
	assert.False(t, ParseBool("N"))
	assert.False(t, ParseBool(""))
	assert.False(t, ParseBool(nil))
}

func TestParseString(t *testing.T) {
	assert.Nil(t, ParseString(""))
	assert.Nil(t, ParseString(nil))

	got := ParseString("hello")
	require.NotNil(t, got)
	assert.Equal(t, "hello", *got)
}

func TestParseID(t *testing.T) {
	assert.Nil(t, ParseID(""))
	assert.Nil(t, ParseID("0"))
	assert.Nil(t, ParseID(float64(0)))
	assert.Nil(t, ParseID("abc"))
	assert.Nil(t, ParseID(nil))

	got := ParseID("42")
	require.NotNil(t, got)
	assert.Equal(t, int64(42), *got)

	got = ParseID(float64(7))
	require.NotNil(t, got)
	assert.Equal(t, int64(7), *got)
}

func TestParseFloat(t *testing.T) {
	got := ParseFloat("1953500|KZT")
	require.NotNil(t, got)
	assert.Equal(t, float64(1953500), *got)

	got = ParseFloat(float64(3.5))
	require.NotNil(t, got)
	assert.Equal(t, 3.5, *got)

	assert.Nil(t, ParseFloat(""))
	assert.Nil(t, ParseFloat("garbage"))
}

func TestParseDateTime(t *testing.T) {
	iso := ParseDateTime("2025-11-20T14:30:05+05:00")
	require.NotNil(t, iso)
	assert.Equal(t, 2025, iso.Year())
	assert.Equal(t, 20, iso.Day())

	ru := ParseDateTime("20.11.2025 14:30:05")
	require.NotNil(t, ru)
	assert.Equal(t, time.November, ru.Month())

	dateOnly := ParseDateTime("20.11.2025")
	require.NotNil(t, dateOnly)
	assert.Equal(t, 0, dateOnly.Hour())

	assert.Nil(t, ParseDateTime(""))
	assert.Nil(t, ParseDateTime("yesterday"))
}

func TestWrapValue(t *testing.T) {
	wrapped := WrapText(5, "note", "text")
	assert.Equal(t, int64(5), wrapped.ValueID)

	text, ok := wrapped.Value.(TextValue)
	require.True(t, ok)
	assert.Equal(t, "note", text.Text)
	assert.Equal(t, "text", text.Type)
}
