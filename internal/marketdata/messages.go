// Decoded exchange message types consumed by the engine core.
// Wire-level parsing happens upstream in the feed handlers; everything here
// arrives with the symbol already resolved to a uint32 ID.

package marketdata

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Message types as emitted by the feed decoders.
const (
	MsgTypeTrade       = 'T'
	MsgTypeQuote       = 'Q'
	MsgTypeNewOrder    = 'N'
	MsgTypeModifyOrder = 'M'
	MsgTypeCancelOrder = 'X'
	MsgTypeHeartbeat   = 'Z'
)

// Order sides.
const (
	SideBuy  = 'B'
	SideSell = 'S'
)

// Exchange identifiers.
const (
	ExchangeNSE = 1
	ExchangeBSE = 2
)

// MaxQuoteDepth is the deepest book snapshot a single quote message carries.
const MaxQuoteDepth = 20

// MessageHeader prefixes every decoded feed message.
type MessageHeader struct {
	MsgType        byte
	Exchange       byte
	MsgLength      uint16
	TimestampNs    uint64
	SequenceNumber uint64
}

// QuoteLevel is one aggregated price level inside a depth snapshot.
type QuoteLevel struct {
	Price      float64
	Quantity   int64
	OrderCount uint32
}

// QuoteMessage is an exchange depth snapshot for one instrument.
// BidCount/AskCount give the number of populated levels.
type QuoteMessage struct {
	Header   MessageHeader
	SymbolID uint32
	Bids     [MaxQuoteDepth]QuoteLevel
	Asks     [MaxQuoteDepth]QuoteLevel
	BidCount uint8
	AskCount uint8
}

// TradeMessage is a single executed trade on the feed.
type TradeMessage struct {
	Header   MessageHeader
	SymbolID uint32
	Price    float64
	Quantity int64
}

// OrderUpdateMessage is a market-by-order event: add, modify or cancel of a
// single resting order identified by OrderID.
type OrderUpdateMessage struct {
	Header   MessageHeader
	SymbolID uint32
	OrderID  uint64
	Side     byte
	Price    float64
	Quantity int64
}

// Fill is a confirmed execution from the order-management layer, applied to
// the position ledger. Quantity and Price use decimal so the ledger never
// accumulates float drift.
type Fill struct {
	ID         uuid.UUID
	SymbolID   uint32
	Symbol     string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Side       byte
	StrategyID string
	FillTime   time.Time
}

// SignedQuantity returns the fill quantity signed by side: positive for
// buys, negative for sells.
func (f *Fill) SignedQuantity() decimal.Decimal {
	if f.Side == SideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// ValidSide reports whether b is a recognised side character.
func ValidSide(b byte) bool {
	switch b {
	case 'B', 'b', 'S', 's':
		return true
	}
	return false
}

// NormalizeSide maps either case to the canonical upper-case side byte.
// Returns 0 for unrecognised input.
func NormalizeSide(b byte) byte {
	switch b {
	case 'B', 'b':
		return SideBuy
	case 'S', 's':
		return SideSell
	}
	return 0
}
