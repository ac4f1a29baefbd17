package domain

// Lot is a single purchased position (or short cover), tracked individually
// so realized P&L can be attributed per lot. Lots close FIFO.
type Lot struct {
	EntryDate  Date    `json:"entryDate"`
	EntryPrice float64 `json:"entryPrice"`
	Shares     float64 `json:"shares"`
	CostBasis  float64 `json:"costBasis"`
}

// LotLedger holds the open lots of one symbol in entry order.
type LotLedger struct {
	lots []Lot
}

// Append adds a lot at the end of the ledger.
func (l *LotLedger) Append(lot Lot) {
	l.lots = append(l.lots, lot)
}

// Len returns the number of open lots.
func (l *LotLedger) Len() int {
	return len(l.lots)
}

// Last returns the most recently opened lot, or nil when the ledger is empty.
func (l *LotLedger) Last() *Lot {
	if len(l.lots) == 0 {
		return nil
	}
	return &l.lots[len(l.lots)-1]
}

// OpenShares returns the total open share count.
func (l *LotLedger) OpenShares() float64 {
	var total float64
	for _, lot := range l.lots {
		total += lot.Shares
	}
	return total
}

// OpenCostBasis returns the total cost basis of open lots.
func (l *LotLedger) OpenCostBasis() float64 {
	var total float64
	for _, lot := range l.lots {
		total += lot.CostBasis
	}
	return total
}

// AvgCost returns the average cost per share across open lots, or 0 when the
// ledger is empty or holds no shares.
func (l *LotLedger) AvgCost() float64 {
	shares := l.OpenShares()
	if shares <= 0 {
		return 0
	}
	return l.OpenCostBasis() / shares
}

// MarkToMarket values the open lots at the given price.
func (l *LotLedger) MarkToMarket(price float64) float64 {
	return l.OpenShares() * price
}

// UnrealizedPnL is the mark-to-market value minus the open cost basis.
func (l *LotLedger) UnrealizedPnL(price float64) float64 {
	return l.MarkToMarket(price) - l.OpenCostBasis()
}

// CloseFIFO removes up to n lots from the front of the ledger at the given
// exit price. It returns the closed lots and the realized P&L
// sum((price - entryPrice) * shares).
func (l *LotLedger) CloseFIFO(n int, price float64) (closed []Lot, realized float64) {
	if n <= 0 || len(l.lots) == 0 {
		return nil, 0
	}
	if n > len(l.lots) {
		n = len(l.lots)
	}

	closed = make([]Lot, n)
	copy(closed, l.lots[:n])
	l.lots = l.lots[n:]

	for _, lot := range closed {
		realized += (price - lot.EntryPrice) * lot.Shares
	}
	return closed, realized
}

// CloseAll removes every open lot at the given price. Used for liquidations.
func (l *LotLedger) CloseAll(price float64) (closed []Lot, realized float64) {
	return l.CloseFIFO(len(l.lots), price)
}

// Snapshot returns a copy of the open lots.
func (l *LotLedger) Snapshot() []Lot {
	out := make([]Lot, len(l.lots))
	copy(out, l.lots)
	return out
}
