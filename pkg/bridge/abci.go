package bridge

import (
	"context"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// CheckTx response codes.
const (
	CodeInvalidEncoding uint32 = 2
	CodeWrongChainID    uint32 = 3
	CodeInvalidSender   uint32 = 4
)

// ABCIApplication implements the CometBFT ABCI interface. Transactions are
// Ethereum transactions; committed ones are queued for injection into the
// execution client at the same height.
type ABCIApplication struct {
	abcitypes.BaseApplication

	bridge *Bridge
}

var _ abcitypes.Application = (*ABCIApplication)(nil)

// NewABCIApplication creates a new ABCI application instance
func NewABCIApplication(bridge *Bridge) *ABCIApplication {
	return &ABCIApplication{
		bridge: bridge,
	}
}

// Info implements abcitypes.Application.Info
func (app *ABCIApplication) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	resp := &abcitypes.ResponseInfo{
		Data:             "engineapi",
		Version:          "1.0.0",
		LastBlockAppHash: []byte{},
	}
	if app.bridge.config != nil {
		resp.AppVersion = app.bridge.config.Bridge.AppVersion
	}
	if app.bridge.state != nil {
		resp.LastBlockHeight = app.bridge.state.GetLatest().Height
	}
	return resp, nil
}

// CheckTx decodes the transaction and checks its chain id and signature.
func (app *ABCIApplication) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(req.Tx); err != nil {
		return &abcitypes.ResponseCheckTx{Code: CodeInvalidEncoding, Log: "invalid transaction encoding: " + err.Error()}, nil
	}

	chainID := app.bridge.chainID
	if chainID == nil {
		return &abcitypes.ResponseCheckTx{Code: abcitypes.CodeTypeOK, GasWanted: int64(tx.Gas())}, nil
	}
	if tx.Protected() && tx.ChainId().Cmp(chainID) != 0 {
		return &abcitypes.ResponseCheckTx{
			Code: CodeWrongChainID,
			Log:  "wrong chain id: want " + chainID.String() + ", have " + tx.ChainId().String(),
		}, nil
	}
	if _, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(chainID), tx); err != nil {
		return &abcitypes.ResponseCheckTx{Code: CodeInvalidSender, Log: "invalid signature: " + err.Error()}, nil
	}
	return &abcitypes.ResponseCheckTx{Code: abcitypes.CodeTypeOK, GasWanted: int64(tx.Gas())}, nil
}

// ProcessProposal implements abcitypes.Application.ProcessProposal
func (app *ABCIApplication) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	return &abcitypes.ResponseProcessProposal{
		Status: abcitypes.ResponseProcessProposal_ACCEPT,
	}, nil
}

// FinalizeBlock queues the block's transactions for injection at its height.
func (app *ABCIApplication) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	if len(req.Txs) > 0 {
		app.bridge.txPool.AddTxs(req.Height, req.Txs)
	}

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i := range req.Txs {
		txResults[i] = &abcitypes.ExecTxResult{Code: abcitypes.CodeTypeOK}
	}
	return &abcitypes.ResponseFinalizeBlock{
		TxResults: txResults,
	}, nil
}
