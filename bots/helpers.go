package bots

import "matchbook/engine"

// midPrice returns the mid mantissa at the book's canonical scale, falling
// back to whichever side exists.
func midPrice(view engine.BookView) int64 {
	bid := int64(0)
	ask := int64(0)
	if view.BestBid != nil {
		bid = view.BestBid.Price.Mantissa()
	}
	if view.BestAsk != nil {
		ask = view.BestAsk.Price.Mantissa()
	}

	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	case ask > 0:
		return ask
	default:
		return 0
	}
}

// tickStep normalizes an unset tick size to one mantissa unit so price
// walks always move.
func tickStep(client EngineClient) int64 {
	if step := client.TickSize(); step > 0 {
		return step
	}
	return 1
}

// snapTick rounds a mantissa down onto the tick grid.
func snapTick(mantissa, tick int64) int64 {
	if tick <= 0 {
		return mantissa
	}
	return (mantissa / tick) * tick
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
