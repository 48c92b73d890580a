package bitrix

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire formats accepted and produced at the portal boundary.
const (
	wireDateTimeISO = "2006-01-02T15:04:05-07:00"
	wireDateTimeRU  = "02.01.2006 15:04:05"
	wireDateRU      = "02.01.2006"
)

// BoolY renders a boolean the way classic CRM fields expect it.
func BoolY(v bool) string {
	if v {
		return "Y"
	}
	return "N"
}

// Bool01 renders a boolean the way selected UF_* user fields expect it.
func Bool01(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// FormatDateTime renders a timestamp in the portal's ISO form.
func FormatDateTime(t time.Time) string {
	return t.Format(wireDateTimeISO)
}

// FormatDateTimeRU renders a timestamp the way the last-communication-time
// field wants it. No other field uses this form.
func FormatDateTimeRU(t time.Time) string {
	return t.Format(wireDateTimeRU)
}

// FormatMoney renders an amount with its currency, e.g. "1953500|KZT".
func FormatMoney(amount float64, currency string) string {
	return fmt.Sprintf("%s|%s", strconv.FormatFloat(amount, 'f', -1, 64), currency)
}

// Alias is a field with two equally valid wire names, typically ALL_CAPS and
// camelCase for the same portal field.
type Alias struct {
	First  string
	Second string
}

// Pick selects the wire name for the given choice. Anything but 2 falls back
// to the first alias.
func (a Alias) Pick(choice int) string {
	if choice == 2 && a.Second != "" {
		return a.Second
	}
	return a.First
}

// ValueWrapper is the {valueId, value} shape some item fields require.
type ValueWrapper struct {
	ValueID int64 `json:"valueId"`
	Value   any   `json:"value"`
}

// TextValue is the nested value form carrying its own render type.
type TextValue struct {
	Text string `json:"TEXT"`
	Type string `json:"TYPE"`
}

// WrapValue builds a scalar field-value wrapper.
func WrapValue(valueID int64, value any) ValueWrapper {
	return ValueWrapper{ValueID: valueID, Value: value}
}

// WrapText builds a field-value wrapper around a typed text payload.
func WrapText(valueID int64, text, renderType string) ValueWrapper {
	return ValueWrapper{ValueID: valueID, Value: TextValue{Text: text, Type: renderType}}
}

// ParseBool normalizes the portal's assorted truthy spellings.
func ParseBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v == "Y" || v == "1"
	case float64:
		return v == 1
	case int:
		return v == 1
	default:
		return false
	}
}

// ParseString normalizes a field to a string pointer; empty strings become
// nil, matching the portal's habit of sending "" for unset fields.
func ParseString(raw any) *string {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// ParseID casts a numeric-looking value to an int64 id. Returns nil for "",
// absent values and "0".
func ParseID(raw any) *int64 {
	var id int64
	switch v := raw.(type) {
	case float64:
		id = int64(v)
	case int:
		id = int64(v)
	case int64:
		id = v
	case string:
		if v == "" {
			return nil
		}
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil
		}
		id = parsed
	default:
		return nil
	}
	if id == 0 {
		return nil
	}
	return &id
}

// ParseFloat casts a numeric-looking value to a float. The money form
// "1953500|KZT" yields its amount.
func ParseFloat(raw any) *float64 {
	switch v := raw.(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case string:
		if v == "" {
			return nil
		}
		amount, _, err := ParseMoney(v)
		if err != nil {
			return nil
		}
		return &amount
	default:
		return nil
	}
}

// ParseMoney splits "amount|currency". A bare number parses with an empty
// currency.
func ParseMoney(raw string) (amount float64, currency string, err error) {
	value := raw
	if idx := strings.IndexByte(raw, '|'); idx >= 0 {
		value, currency = raw[:idx], raw[idx+1:]
	}
	amount, err = strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse money %q: %w", raw, err)
	}
	return amount, currency, nil
}

// ParseDateTime accepts the ISO form, the RU datetime form and the bare RU
// date form. Empty input yields nil.
func ParseDateTime(raw any) *time.Time {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range []string{wireDateTimeISO, time.RFC3339, wireDateTimeRU, wireDateRU} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
