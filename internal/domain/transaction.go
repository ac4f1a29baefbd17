package domain

// TransactionKind tags a transaction record. Consumers aggregate by
// pattern-matching on the kind, so this stays a closed set.
type TransactionKind string

const (
	// TxnBuy is a plain (non-trailing) lot purchase.
	TxnBuy TransactionKind = "BUY"
	// TxnSell is a plain (non-trailing) lot sale.
	TxnSell TransactionKind = "SELL"
	// TxnTrailingBuy is a purchase fired by the trailing-buy machine.
	TxnTrailingBuy TransactionKind = "TRAILING_BUY"
	// TxnTrailingSell is a sale fired by the trailing-sell machine.
	TxnTrailingSell TransactionKind = "TRAILING_SELL"
	// TxnRejected records a buy denied admission (insufficient cash).
	TxnRejected TransactionKind = "REJECTED"
	// TxnLiquidation records a forced close on index removal.
	TxnLiquidation TransactionKind = "LIQUIDATION"
)

// Rejection and gate-block reason codes.
const (
	ReasonInsufficientCash = "insufficient_cash"
	ReasonDowntrendOnly    = "traditional_downtrend_only"
	ReasonUptrendOnly      = "traditional_uptrend_only"
	ReasonMaxLots          = "max_lots"
	ReasonGridNotMet       = "grid_not_met"
	ReasonMomentumNegative = "momentum_negative"
	ReasonProfitNotMet     = "profit_not_met"
	ReasonIndexRemoval     = "index_removal"
)

// Transaction is one append-only record in a run's trade log.
type Transaction struct {
	Date         Date            `json:"date"`
	Symbol       string          `json:"symbol"`
	Kind         TransactionKind `json:"kind"`
	Price        float64         `json:"price"`
	Shares       float64         `json:"shares"`
	Value        float64         `json:"value"`
	LotsAffected int             `json:"lotsAffected,omitempty"`
	RealizedPnL  *float64        `json:"realizedPnL,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// IsExecution reports whether the record moved shares (rejections do not).
func (t Transaction) IsExecution() bool {
	return t.Kind != TxnRejected
}

// IsEntry reports whether the record opened a lot.
func (t Transaction) IsEntry() bool {
	return t.Kind == TxnBuy || t.Kind == TxnTrailingBuy
}

// IsExit reports whether the record closed lots.
func (t Transaction) IsExit() bool {
	return t.Kind == TxnSell || t.Kind == TxnTrailingSell || t.Kind == TxnLiquidation
}
