package quote

// Best returns the better of two quotes: the strictly higher price wins.
// On an exact tie the first quote wins, which keeps selection deterministic
// regardless of argument evaluation order. Fees do not affect selection;
// comparison is on gross price.
func Best(a, b Quote) Quote {
	if b.Price > a.Price {
		return b
	}
	return a
}
