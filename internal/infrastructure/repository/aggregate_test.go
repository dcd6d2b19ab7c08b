package repository

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	r, _ := listingRepo(t)

	res, err := r.Aggregate(bg, AggregateArgs{Aggregates: Aggregates{
		Count: true,
		Avg:   FieldSet{"price"},
		Sum:   FieldSet{"mileage", "price"},
		Min:   FieldSet{"price", "scrapedAt"},
		Max:   FieldSet{"year", "title"},
	}})
	require.NoError(t, err)

	require.NotNil(t, res.Count)
	assert.Equal(t, int64(3), *res.Count)
	require.NotNil(t, res.Avg["price"])
	assert.InDelta(t, 17333.4967, *res.Avg["price"], 0.001)
	assert.Equal(t, 95000, res.Sum["mileage"])
	sum, ok := res.Sum["price"].(decimal.Decimal)
	require.True(t, ok, "%T", res.Sum["price"])
	assert.InDelta(t, 52000.49, sum.InexactFloat64(), 0.001)
	minPrice, ok := res.Min["price"].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, minPrice.Equal(dec("12999.99")), minPrice.String())
	first, ok := res.Min["scrapedAt"].(time.Time)
	require.True(t, ok, "%T", res.Min["scrapedAt"])
	assert.True(t, scraped.Equal(first))
	assert.Equal(t, 2021, res.Max["year"])
	assert.Equal(t, "Toyota Corolla LE", res.Max["title"])
}

func TestAggregate_EmptySet(t *testing.T) {
	r, _ := listingRepo(t)

	res, err := r.Aggregate(bg, AggregateArgs{
		Where:      Where{"priceCurrency": "GBP"},
		Aggregates: Aggregates{Count: true, Avg: FieldSet{"price"}, Max: FieldSet{"price"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), *res.Count)
	assert.Contains(t, res.Avg, "price")
	assert.Nil(t, res.Avg["price"])
	assert.Nil(t, res.Max["price"])
}

func TestAggregate_Invalid(t *testing.T) {
	r, _ := listingRepo(t)

	_, err := r.Aggregate(bg, AggregateArgs{})
	assert.True(t, IsValidation(err))

	_, err = r.Aggregate(bg, AggregateArgs{Aggregates: Aggregates{Avg: FieldSet{"title"}}})
	assert.True(t, IsValidation(err))

	_, err = r.Aggregate(bg, AggregateArgs{Aggregates: Aggregates{Sum: FieldSet{"isNew"}}})
	assert.True(t, IsValidation(err))

	_, err = r.Aggregate(bg, AggregateArgs{Aggregates: Aggregates{Min: FieldSet{"horsepower"}}})
	assert.True(t, errors.Is(err, ErrUnknownField))
}

func TestGroupBy(t *testing.T) {
	r, _ := listingRepo(t)

	groups, err := r.GroupBy(bg, GroupByArgs{
		By:      FieldSet{"priceCurrency"},
		OrderBy: OrderByList{Asc("priceCurrency")},
		Aggregates: Aggregates{
			Count: true,
			Avg:   FieldSet{"price"},
			Max:   FieldSet{"price"},
		},
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	eur, usd := groups[0], groups[1]
	assert.Equal(t, "EUR", eur.By["priceCurrency"])
	assert.Equal(t, int64(1), *eur.Count)
	assert.InDelta(t, 12999.99, *eur.Avg["price"], 0.001)

	assert.Equal(t, "USD", usd.By["priceCurrency"])
	assert.Equal(t, int64(2), *usd.Count)
	assert.InDelta(t, 19500.25, *usd.Avg["price"], 0.001)
	maxUSD := usd.Max["price"].(decimal.Decimal)
	assert.True(t, maxUSD.Equal(dec("21000.5")))
}

func TestGroupBy_HavingOrderAndPaging(t *testing.T) {
	r, _ := listingRepo(t)

	groups, err := r.GroupBy(bg, GroupByArgs{
		By:         FieldSet{"sellerId"},
		Having:     []Having{{Fn: "count", Op: "gt", Value: 1}},
		Aggregates: Aggregates{Count: true},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "sl-dealer", groups[0].By["sellerId"])

	groups, err = r.GroupBy(bg, GroupByArgs{
		By:         FieldSet{"priceCurrency"},
		Having:     []Having{{Fn: "avg", Field: "price", Op: "gte", Value: 15000}},
		Aggregates: Aggregates{Count: true},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "USD", groups[0].By["priceCurrency"])

	groups, err = r.GroupBy(bg, GroupByArgs{
		By:         FieldSet{"sellerId", "priceCurrency"},
		OrderBy:    OrderByList{Desc("_count"), Asc("sellerId"), Asc("priceCurrency")},
		Take:       Take(2),
		Aggregates: Aggregates{Count: true, Sum: FieldSet{"mileage"}},
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "sl-dealer", groups[0].By["sellerId"])
	assert.Equal(t, "EUR", groups[0].By["priceCurrency"])
	assert.Equal(t, 60000, groups[0].Sum["mileage"])

	groups, err = r.GroupBy(bg, GroupByArgs{
		By:      FieldSet{"priceCurrency"},
		OrderBy: OrderByList{Desc("_avg.price")},
		Skip:    1,
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "EUR", groups[0].By["priceCurrency"])
	assert.Nil(t, groups[0].Count)
}

func TestGroupBy_Invalid(t *testing.T) {
	r, _ := listingRepo(t)

	cases := map[string]GroupByArgs{
		"no by":           {},
		"unknown by":      {By: FieldSet{"horsepower"}},
		"order ungrouped": {By: FieldSet{"priceCurrency"}, OrderBy: OrderByList{Asc("year")}},
		"bad aggregate":   {By: FieldSet{"priceCurrency"}, OrderBy: OrderByList{Asc("_median.price")}},
		"bad having op":   {By: FieldSet{"priceCurrency"}, Having: []Having{{Fn: "count", Op: "like", Value: 1}}},
		"bad having fn":   {By: FieldSet{"priceCurrency"}, Having: []Having{{Fn: "stddev", Field: "price", Op: "gt", Value: 1}}},
		"negative take":   {By: FieldSet{"priceCurrency"}, Take: Take(-1)},
		"negative skip":   {By: FieldSet{"priceCurrency"}, Skip: -1},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.GroupBy(bg, args)
			assert.True(t, IsValidation(err), "%v", err)
		})
	}
}

func TestGroupResult_MarshalJSON(t *testing.T) {
	n := int64(2)
	avg := 19500.25
	b, err := json.Marshal(GroupResult{
		By:              map[string]interface{}{"priceCurrency": "USD"},
		AggregateResult: AggregateResult{Count: &n, Avg: map[string]*float64{"price": &avg}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"priceCurrency":"USD","_count":2,"_avg":{"price":19500.25}}`, string(b))
}
