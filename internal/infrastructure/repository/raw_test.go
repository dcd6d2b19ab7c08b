package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRaw(t *testing.T) {
	_, db := listingRepo(t)

	rows, err := QueryRaw(bg, db, "SELECT id, price_currency FROM car_listings WHERE year >= ? ORDER BY id", 2020)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "l-corolla", rows[0]["id"])
	assert.Equal(t, "USD", rows[0]["price_currency"])
	assert.Equal(t, "l-hybrid", rows[1]["id"])

	rows, err = QueryRaw(bg, db, "SELECT id FROM car_listings WHERE year > ?", 3000)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestQueryRaw_RequiresParameters(t *testing.T) {
	_, db := listingRepo(t)

	cases := map[string]struct {
		query string
		args  []interface{}
	}{
		"empty":                    {query: "  "},
		"quoted literal":           {query: "SELECT id FROM car_listings WHERE price_currency = 'USD'"},
		"literal after identifier": {query: `SELECT "id" FROM car_listings WHERE "price_currency" = 'USD'`},
		"unterminated identifier":  {query: `SELECT "id FROM car_listings`},
		"missing arg":              {query: "SELECT id FROM car_listings WHERE year = ?"},
		"extra arg":                {query: "SELECT id FROM car_listings", args: []interface{}{1}},
		"injected string":          {query: "SELECT id FROM car_listings WHERE id = 'x' OR 1=1 --"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := QueryRaw(bg, db, tc.query, tc.args...)
			assert.True(t, IsValidation(err), "%v", err)
			_, err = ExecuteRaw(bg, db, tc.query, tc.args...)
			assert.True(t, IsValidation(err), "%v", err)
		})
	}
}

func TestQueryRaw_QuotedIdentifiers(t *testing.T) {
	_, db := listingRepo(t)

	rows, err := QueryRaw(bg, db, `SELECT "id", `+"`year`"+` FROM "car_listings" WHERE "price_currency" = ? ORDER BY "id"`, "EUR")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "l-focus", rows[0]["id"])
	assert.EqualValues(t, 2019, rows[0]["year"])

	_, err = ExecuteRaw(bg, db, `UPDATE "car_listings" SET "mileage" = ? WHERE "id" = ?`, 61000, "l-focus")
	require.NoError(t, err)
}

func TestQueryRawUnsafe(t *testing.T) {
	_, db := listingRepo(t)

	rows, err := QueryRawUnsafe(bg, db, "SELECT COUNT(*) AS n FROM car_listings WHERE price_currency = 'USD'")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["n"])

	_, err = QueryRawUnsafe(bg, db, "SELECT * FROM no_such_table")
	require.Error(t, err)
	var ure *UnknownRequestError
	assert.ErrorAs(t, err, &ure)
	assert.Equal(t, rawModel, ure.Model)
}

func TestExecuteRaw(t *testing.T) {
	r, db := listingRepo(t)

	n, err := ExecuteRaw(bg, db, "UPDATE car_listings SET mileage = mileage + ? WHERE seller_id = ?", 100, "sl-dealer")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	l, err := r.FindUniqueOrThrow(bg, UniqueArgs{Where: Where{"id": "l-focus"}})
	require.NoError(t, err)
	assert.Equal(t, 60100, l.Mileage)

	_, err = ExecuteRaw(bg, db, "UPDATE car_listings SET url = ? WHERE id = ?", "https://autos.example.com/l/1", "l-focus")
	assert.Equal(t, CodeUniqueViolation, Code(err))

	n, err = ExecuteRawUnsafe(bg, db, "DELETE FROM images WHERE url LIKE '%2.jpg'")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
