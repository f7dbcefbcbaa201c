package exchange

import (
	"math/big"
	"testing"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func priceOrder(start, end *big.Int, t0, t1 uint64) *Order {
	return &Order{
		NumItems:   1,
		StartPrice: start,
		EndPrice:   end,
		StartTime:  t0,
		EndTime:    t1,
	}
}

func TestPriceClampsOutsideWindow(t *testing.T) {
	o := priceOrder(ether(2), ether(1), 1000, 2000)

	if got := PriceAt(o, 500); got.Cmp(ether(2)) != 0 {
		t.Errorf("before start: %s, want 2e18", got)
	}
	if got := PriceAt(o, 1000); got.Cmp(ether(2)) != 0 {
		t.Errorf("at start: %s, want 2e18", got)
	}
	if got := PriceAt(o, 2000); got.Cmp(ether(1)) != 0 {
		t.Errorf("at end: %s, want 1e18", got)
	}
	if got := PriceAt(o, 9999); got.Cmp(ether(1)) != 0 {
		t.Errorf("after end: %s, want 1e18", got)
	}
}

func TestPriceFlatSchedule(t *testing.T) {
	o := priceOrder(ether(1), ether(1), 1000, 2000)
	for _, at := range []uint64{1000, 1500, 2000} {
		if got := PriceAt(o, at); got.Cmp(ether(1)) != 0 {
			t.Errorf("t=%d: %s, want 1e18", at, got)
		}
	}
}

func TestPriceLinearInterpolation(t *testing.T) {
	// Descending 2 -> 1 over 1000s: halfway is exactly 1.5.
	desc := priceOrder(ether(2), ether(1), 0, 1000)
	want := new(big.Int).Add(ether(1), new(big.Int).Div(ether(1), big.NewInt(2)))
	if got := PriceAt(desc, 500); got.Cmp(want) != 0 {
		t.Errorf("descending halfway: %s, want %s", got, want)
	}

	// Ascending with integer prices: floor of the moved portion.
	asc := priceOrder(big.NewInt(100), big.NewInt(200), 0, 300)
	// moved = 100*100/300 = 33 (floor)
	if got := PriceAt(asc, 100); got.Cmp(big.NewInt(133)) != 0 {
		t.Errorf("ascending third: %s, want 133", got)
	}

	// Descending with integer prices: the portion is floored before
	// subtracting, so the price stays on or above the exact line.
	descInt := priceOrder(big.NewInt(200), big.NewInt(100), 0, 300)
	if got := PriceAt(descInt, 100); got.Cmp(big.NewInt(167)) != 0 {
		t.Errorf("descending third: %s, want 167", got)
	}
}

func TestPriceMonotonic(t *testing.T) {
	cases := []struct {
		name string
		o    *Order
		sign int // expected sign of price(t2) - price(t1) for t2 > t1
	}{
		{"descending", priceOrder(ether(10), ether(1), 0, 100000), -1},
		{"ascending", priceOrder(ether(1), ether(10), 0, 100000), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := PriceAt(tc.o, 1)
			for at := uint64(1000); at < 100000; at += 1000 {
				cur := PriceAt(tc.o, at)
				if d := cur.Cmp(prev); d != tc.sign {
					t.Fatalf("t=%d: price moved wrong way (%s vs %s)", at, cur, prev)
				}
				prev = cur
			}
		})
	}
}

func TestPriceNoIntermediateOverflow(t *testing.T) {
	// Amounts near 2^255 with long durations must not wrap.
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	o := priceOrder(new(big.Int), huge, 0, 1<<40)
	got := PriceAt(o, 1<<39)
	want := new(big.Int).Rsh(huge, 1)
	if got.Cmp(want) != 0 {
		t.Errorf("halfway on huge schedule: %s, want %s", got, want)
	}
}
