package exchange

import "math/big"

// PriceAt evaluates the order's time-weighted price at time t (unix seconds).
//
// Outside [StartTime, EndTime] the nearer endpoint price is returned; inside,
// the price moves linearly from StartPrice to EndPrice. The moved portion is
// computed on the magnitude of the price difference and floored, matching the
// fixed-point behavior takers sign up for: a descending schedule never dips
// below the interpolated line, an ascending one never overshoots it.
//
// All arithmetic widens into big.Int before multiplying, so there is no
// intermediate overflow for 18-decimal amounts.
//
// Callers must capture one authoritative t per settlement call and reuse it
// for every order they compare; PriceAt itself never reads a clock.
func PriceAt(o *Order, t uint64) *big.Int {
	if t <= o.StartTime {
		return new(big.Int).Set(o.StartPrice)
	}
	if t >= o.EndTime {
		return new(big.Int).Set(o.EndPrice)
	}

	elapsed := new(big.Int).SetUint64(t - o.StartTime)
	duration := new(big.Int).SetUint64(o.EndTime - o.StartTime)

	descending := o.StartPrice.Cmp(o.EndPrice) > 0
	diff := new(big.Int)
	if descending {
		diff.Sub(o.StartPrice, o.EndPrice)
	} else {
		diff.Sub(o.EndPrice, o.StartPrice)
	}

	portion := diff.Mul(diff, elapsed)
	portion.Div(portion, duration)

	price := new(big.Int).Set(o.StartPrice)
	if descending {
		return price.Sub(price, portion)
	}
	return price.Add(price, portion)
}
