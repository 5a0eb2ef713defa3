package engine

// matchIncoming consumes an incoming order against the opposite side of the
// book, honoring price priority first and arrival sequence within a price.
// Fills execute at the resting order's price. A limit remainder is inserted
// on its own side; a market remainder is discarded. Returns the trades in
// execution order plus the acknowledgment for the command.
//
// Single-threaded by construction: only the engine loop calls this.
func (e *Engine) matchIncoming(o *Order) ([]Trade, Ack) {
	var trades []Trade
	opp := o.Side.Opposite()

	for o.Remaining > 0 {
		lvl := e.book.best(opp)
		if lvl == nil {
			break
		}
		if o.Type == Limit && !priceCompatible(o, lvl.price) {
			break
		}

		resting := lvl.head
		qty := min(o.Remaining, resting.Remaining)
		restingID := resting.ID

		if _, err := e.book.reduceQuantity(restingID, qty); err != nil {
			// Mid-match fault: fills committed so far stand, the book stays
			// in its last consistent state, and the fault is reported
			// distinctly from success.
			return trades, Ack{
				OrderID:   o.ID,
				Outcome:   OutcomeRejected,
				Filled:    o.Quantity - o.Remaining,
				Err:       err,
				Timestamp: e.now(),
			}
		}
		o.Remaining -= qty

		e.tradeSeq++
		tr := Trade{
			Sequence:  e.tradeSeq,
			Price:     lvl.price,
			Quantity:  qty,
			Timestamp: e.now(),
		}
		if o.Side == Buy {
			tr.BuyOrderID, tr.SellOrderID = o.ID, restingID
		} else {
			tr.BuyOrderID, tr.SellOrderID = restingID, o.ID
		}
		trades = append(trades, tr)
	}

	filled := o.Quantity - o.Remaining
	ack := Ack{OrderID: o.ID, Filled: filled, Timestamp: e.now()}

	switch {
	case o.Remaining == 0:
		ack.Outcome = OutcomeFilled
	case o.Type == Limit:
		e.book.insert(o)
		ack.Resting = o.Remaining
		if filled > 0 {
			ack.Outcome = OutcomePartiallyFilledResting
		} else {
			ack.Outcome = OutcomeRested
		}
	default: // Market remainder never rests
		if filled > 0 {
			ack.Outcome = OutcomePartiallyFilledDiscarded
		} else {
			ack.Outcome = OutcomeRejectedNoLiquidity
			ack.Err = ErrNoLiquidity
		}
	}
	return trades, ack
}

// priceCompatible reports whether a limit order crosses the given opposite
// price. Both prices are at the canonical scale.
func priceCompatible(o *Order, opposite Price) bool {
	if o.Side == Buy {
		return opposite.mantissa <= o.Price.mantissa
	}
	return opposite.mantissa >= o.Price.mantissa
}
