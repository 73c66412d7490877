package utxo

// Satoshi amounts that conventionally mark dust limits or third-party
// assets (inscriptions, ordinals, runes). Coins holding exactly one of
// these values are never spent as ordinary funds.
var protectedValues = map[int64]struct{}{
	546:   {}, // P2PKH dust limit, common inscription postage
	330:   {}, // P2TR dust limit
	333:   {},
	600:   {},
	777:   {},
	1000:  {},
	10000: {}, // default ordinal postage
}

// IsProtected reports whether value belongs to the protected set.
func IsProtected(value int64) bool {
	_, ok := protectedValues[value]
	return ok
}

// ProtectedValues returns the protected set in ascending order.
func ProtectedValues() []int64 {
	return []int64{330, 333, 546, 600, 777, 1000, 10000}
}

// FilterSpendable removes every protected coin and keeps input order.
// The wallet scanner and the funding analyzer both go through here.
func FilterSpendable(coins []Coin) []Coin {
	out := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if IsProtected(c.Value) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ProtectedCoins returns the coins FilterSpendable would drop.
func ProtectedCoins(coins []Coin) []Coin {
	var out []Coin
	for _, c := range coins {
		if IsProtected(c.Value) {
			out = append(out, c)
		}
	}
	return out
}
