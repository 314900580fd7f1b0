package engine

// TickFloor rounds a tick down to the nearest multiple of spacing, toward
// negative infinity. Integer division in Go truncates toward zero, so
// negative ticks off a boundary need one extra step down.
func TickFloor(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// CrossedTicks computes the inclusive range of lower-tick boundaries crossed
// when a pool's floored tick moved from prev to curr. The returned range is
// empty (crossed=false) when the price stayed within one spacing step. Orders
// fill on the side opposite the trade's own direction, so callers pair this
// with fillZeroForOne = !tradeZeroForOne.
func CrossedTicks(prev, curr, spacing int32) (lower, upper int32, crossed bool) {
	if curr < prev {
		lower = curr + spacing
		upper = prev
	} else {
		lower = prev
		upper = curr - spacing
	}
	return lower, upper, lower <= upper
}
