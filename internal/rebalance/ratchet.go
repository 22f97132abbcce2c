package rebalance

// Ratchet returns the new peak value and the current holding's worth in
// reference units. The peak never decreases.
func Ratchet(peak, units, heldPrice, refPrice float64) (newPeak, equivalent float64) {
	if refPrice <= 0 {
		return peak, 0
	}
	equivalent = units * heldPrice / refPrice
	if equivalent > peak {
		return equivalent, equivalent
	}
	return peak, equivalent
}
