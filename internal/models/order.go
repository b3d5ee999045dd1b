package models

type Chain string

const (
	ChainSolana   Chain = "solana"
	ChainBase     Chain = "base"
	ChainBSC      Chain = "bsc"
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainTron     Chain = "tron"
)

func (c Chain) Valid() bool {
	switch c {
	case ChainSolana, ChainBase, ChainBSC, ChainEthereum, ChainArbitrum, ChainTron:
		return true
	}
	return false
}

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// TakeProfitStep is one rung of a staged stop-earn / stop-loss plan.
type TakeProfitStep struct {
	PricePercent  float64 `json:"pricePercent"`
	AmountPercent float64 `json:"amountPercent"`
}

// SwapOrderIntent mirrors the DBot automation swap_order body. It is built
// per submission and never stored.
type SwapOrderIntent struct {
	Chain           Chain            `json:"chain"`
	Pair            string           `json:"pair"`
	WalletID        string           `json:"walletId"`
	Type            string           `json:"type"` // "buy" or "sell"
	AmountOrPercent float64          `json:"amountOrPercent"`
	StopEarnPercent *float64         `json:"stopEarnPercent,omitempty"`
	StopLossPercent *float64         `json:"stopLossPercent,omitempty"`
	StopEarnGroup   []TakeProfitStep `json:"stopEarnGroup,omitempty"`
	StopLossGroup   []TakeProfitStep `json:"stopLossGroup,omitempty"`
	PriorityFee     string           `json:"priorityFee,omitempty"`
	GasFeeDelta     *float64         `json:"gasFeeDelta,omitempty"`
	MaxFeePerGas    *float64         `json:"maxFeePerGas,omitempty"`
	JitoEnabled     bool             `json:"jitoEnabled"`
	JitoTip         *float64         `json:"jitoTip,omitempty"`
	MaxSlippage     float64          `json:"maxSlippage"`
	ConcurrentNodes int              `json:"concurrentNodes"`
	Retries         int              `json:"retries"`
}

// FeeTransferRequest asks the executor to move a platform fee on-chain.
type FeeTransferRequest struct {
	UserID string  `json:"userId"`
	Amount float64 `json:"amount"`
	Type   string  `json:"type"`
}

// FeeTransferResult reports the transfer as sent: FeeAmount is the requested
// amount floored to whole lamports.
type FeeTransferResult struct {
	Signature string  `json:"signature"`
	FeeAmount float64 `json:"feeAmount"`
	FeeWallet string  `json:"feeWallet"`
	Lamports  uint64  `json:"lamports"`
}
