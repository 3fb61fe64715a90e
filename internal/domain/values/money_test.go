package values

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyFromString(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
		wantErr  bool
	}{
		{name: "valid decimal", amount: "123.45", currency: "USD", want: "123.45 USD"},
		{name: "integer string", amount: "100", currency: "USD", want: "100.00 USD"},
		{name: "high precision kept", amount: "0.0001", currency: "EUR", want: "0.00 EUR"},
		{name: "whitespace trimmed", amount: " 10.50 ", currency: "GBP", want: "10.50 GBP"},
		{name: "lowercase currency", amount: "5", currency: "usd", want: "5.00 USD"},
		{name: "not a number", amount: "abc", currency: "USD", wantErr: true},
		{name: "empty amount", amount: "", currency: "USD", wantErr: true},
		{name: "unsupported currency", amount: "10", currency: "JPY", wantErr: true},
		{name: "empty currency", amount: "10", currency: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMoneyFromString(tt.amount, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.String())
		})
	}
}

func TestNewMoneyFromInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    string
		wantErr bool
	}{
		{name: "numeric string", raw: "150.00", want: "150.00 USD"},
		{name: "json number", raw: json.Number("150.25"), want: "150.25 USD"},
		{name: "float", raw: 99.99, want: "99.99 USD"},
		{name: "int", raw: 42, want: "42.00 USD"},
		{name: "int64", raw: int64(7), want: "7.00 USD"},
		{name: "decimal", raw: decimal.RequireFromString("3.50"), want: "3.50 USD"},
		{name: "nil", raw: nil, wantErr: true},
		{name: "bool", raw: true, wantErr: true},
		{name: "garbage string", raw: "1,000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMoneyFromInput(tt.raw, USD)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.String())
		})
	}
}

func TestMoneyComparisons(t *testing.T) {
	ten := MustNewMoneyFromString("10.00", USD)
	eleven := MustNewMoneyFromString("11.00", USD)
	alsoTen := MustNewMoneyFromString("10", USD)

	assert.True(t, ten.LessThan(eleven))
	assert.False(t, eleven.LessThan(ten))
	assert.False(t, ten.LessThan(alsoTen))
	assert.True(t, ten.Equal(alsoTen))
	assert.Equal(t, 0, ten.Compare(alsoTen))
	assert.Equal(t, -1, ten.Compare(eleven))
	assert.Equal(t, 1, eleven.Compare(ten))

	assert.Panics(t, func() {
		ten.Compare(MustNewMoneyFromString("10", EUR))
	})
}

func TestMoneyAdd(t *testing.T) {
	a := MustNewMoneyFromString("10.50", USD)
	b := MustNewMoneyFromString("0.25", USD)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "10.75 USD", sum.String())

	_, err = a.Add(MustNewMoneyFromString("1", EUR))
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustAdd(a, MustNewMoneyFromString("1", GBP))
	})
}

func TestMoneySigns(t *testing.T) {
	assert.True(t, Zero(USD).IsZero())
	assert.False(t, Zero(USD).IsPositive())
	assert.True(t, MustNewMoneyFromString("0.01", USD).IsPositive())
	assert.False(t, MustNewMoneyFromString("-5", USD).IsPositive())
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	m := MustNewMoneyFromString("123.45", USD)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"123.45","currency":"USD"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
}

func TestMoneyScan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("250.7500"))
	assert.True(t, m.Equal(MustNewMoneyFromString("250.75", USD)))

	require.NoError(t, m.Scan([]byte("10")))
	assert.True(t, m.Equal(MustNewMoneyFromString("10", USD)))

	require.NoError(t, m.Scan(nil))
	assert.True(t, m.IsZero())

	assert.Error(t, m.Scan(struct{}{}))
}

func TestMoneyValue(t *testing.T) {
	v, err := MustNewMoneyFromString("99.99", USD).Value()
	require.NoError(t, err)
	assert.Equal(t, "99.99", v)

	v, err = Money{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
