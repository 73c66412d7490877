/*
This file contains filter/aggregate operations on coins.
*/
package utxo

// Dedup drops repeated (txid, vout) pairs. The first occurrence wins.
func Dedup(coins []Coin) []Coin {
	seen := make(map[string]struct{}, len(coins))
	out := make([]Coin, 0, len(coins))
	for _, c := range coins {
		k := c.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// AtLeast keeps coins whose value is >= min.
func AtLeast(coins []Coin, min int64) []Coin {
	out := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if c.Value >= min {
			out = append(out, c)
		}
	}
	return out
}

// OnlySpendable drops theoretical coins and coins without a txid.
func OnlySpendable(coins []Coin) []Coin {
	out := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if c.Spendable() {
			out = append(out, c)
		}
	}
	return out
}

// TotalValue sums the value of all coins in satoshi.
func TotalValue(coins []Coin) int64 {
	var sum int64
	for _, c := range coins {
		sum += c.Value
	}
	return sum
}

// Keys returns the "txid:vout" key of every coin.
func Keys(coins []Coin) []string {
	keys := make([]string, 0, len(coins))
	for _, c := range coins {
		keys = append(keys, c.Key())
	}
	return keys
}

// Clone copies a coin slice so callers can't alias stored state.
func Clone(coins []Coin) []Coin {
	if coins == nil {
		return nil
	}
	out := make([]Coin, len(coins))
	copy(out, coins)
	return out
}
