package bridge

import (
	"encoding/binary"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/ethereum"
	"github.com/smallyunet/engineapi/pkg/types"
)

// fakeEngine is an in-memory execution client that builds Capella payloads
// on request and imports them on newPayload.
type fakeEngine struct {
	URL string

	conv *engine.Converter

	mu      sync.Mutex
	genesis ethereum.Header
	blocks  map[common.Hash]ethereum.Header
	randao  map[uint64]common.Hash
	pending map[types.PayloadID]types.ExecutionPayload
	nextID  uint64
	heads   []types.ForkchoiceState
	txs     [][]byte
	verdict types.PayloadStatusKind
	tamper  bool

	// repeatID makes every build reuse the first payload id.
	repeatID bool
	fetched  int
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	genesis := ethereum.Header{Hash: common.HexToHash("0x9e"), Number: 0, Timestamp: 1_600_000_000}
	el := &fakeEngine{
		conv:    engine.NewConverter(nil),
		genesis: genesis,
		blocks:  map[common.Hash]ethereum.Header{genesis.Hash: genesis},
		randao:  make(map[uint64]common.Hash),
		pending: make(map[types.PayloadID]types.ExecutionPayload),
		verdict: types.StatusValid,
	}
	srv := httptest.NewServer(el)
	t.Cleanup(srv.Close)
	el.URL = srv.URL
	return el
}

func invalidParams(err error) *engine.RPCError {
	return &engine.RPCError{Code: -32602, Message: err.Error()}
}

func (el *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	el.mu.Lock()
	result, rpcErr := el.handle(req.Method, req.Params)
	el.mu.Unlock()

	var resp *engine.Response
	if rpcErr != nil {
		resp = engine.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message)
	} else {
		var err error
		if resp, err = engine.NewResultResponse(req.ID, result); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (el *fakeEngine) handle(method string, params []json.RawMessage) (interface{}, *engine.RPCError) {
	switch method {
	case "eth_getBlockByNumber":
		return el.genesis, nil
	case "eth_getBlockByHash":
		var hash common.Hash
		if err := json.Unmarshal(params[0], &hash); err != nil {
			return nil, invalidParams(err)
		}
		if header, ok := el.blocks[hash]; ok {
			return header, nil
		}
		return nil, nil
	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if err := json.Unmarshal(params[0], &raw); err != nil {
			return nil, invalidParams(err)
		}
		el.txs = append(el.txs, raw)
		return crypto.Keccak256Hash(raw), nil
	case engine.MethodForkchoiceUpdatedV2:
		return el.forkchoiceUpdated(params)
	case engine.MethodGetPayloadV2:
		var id engine.PayloadIDRequest
		if err := json.Unmarshal(params[0], &id); err != nil {
			return nil, invalidParams(err)
		}
		payload, ok := el.pending[types.PayloadID(id)]
		if !ok {
			return nil, &engine.RPCError{Code: -38001, Message: "Unknown payload"}
		}
		delete(el.pending, types.PayloadID(id))
		el.fetched++
		wire, err := el.conv.LowerPayload(payload)
		if err != nil {
			return nil, invalidParams(err)
		}
		return engine.GetPayloadV2Response{ExecutionPayload: wire, BlockValue: *uint256.NewInt(1)}, nil
	case engine.MethodNewPayloadV2:
		payload, err := el.conv.DecodePayload(params[0], types.ForkCapella)
		if err != nil {
			return nil, invalidParams(err)
		}
		base := payload.Base()
		if el.verdict == types.StatusValid {
			el.blocks[base.BlockHash] = ethereum.Header{
				Hash:       base.BlockHash,
				ParentHash: base.ParentHash,
				Number:     hexutil.Uint64(base.BlockNumber),
				Timestamp:  hexutil.Uint64(base.Timestamp),
			}
		}
		return engine.NewPayloadStatusV1(types.PayloadStatus{Status: el.verdict, LatestValidHash: &base.ParentHash}), nil
	default:
		return nil, &engine.RPCError{Code: -32601, Message: "the method " + method + " does not exist/is not available"}
	}
}

func (el *fakeEngine) forkchoiceUpdated(params []json.RawMessage) (interface{}, *engine.RPCError) {
	var fcState engine.ForkchoiceStateV1
	if err := json.Unmarshal(params[0], &fcState); err != nil {
		return nil, invalidParams(err)
	}
	state := fcState.ToForkchoiceState()
	valid := types.PayloadStatus{Status: types.StatusValid, LatestValidHash: &state.HeadBlockHash}

	if len(params) < 2 || string(params[1]) == "null" {
		el.heads = append(el.heads, state)
		return engine.NewForkchoiceUpdatedResponseV1(types.ForkchoiceUpdatedResponse{PayloadStatus: valid}), nil
	}

	attrs, err := el.conv.DecodeAttributes(params[1])
	if err != nil {
		return nil, invalidParams(err)
	}
	v2, ok := attrs.(*types.PayloadAttributesV2)
	if !ok {
		return nil, &engine.RPCError{Code: -38003, Message: "Invalid payload attributes"}
	}
	parent, ok := el.blocks[state.HeadBlockHash]
	if !ok {
		return nil, &engine.RPCError{Code: -38002, Message: "Invalid forkchoice state"}
	}

	number := uint64(parent.Number) + 1
	el.randao[number] = v2.PrevRandao
	payload := &types.ExecutionPayloadCapella{
		PayloadBase: types.PayloadBase{
			ParentHash:    parent.Hash,
			FeeRecipient:  v2.SuggestedFeeRecipient,
			PrevRandao:    v2.PrevRandao,
			BlockNumber:   number,
			GasLimit:      30_000_000,
			Timestamp:     v2.Timestamp,
			ExtraData:     []byte{},
			BaseFeePerGas: *uint256.NewInt(7),
			Transactions:  append([][]byte{}, el.txs...),
		},
		Withdrawals: v2.Withdrawals,
	}
	hash, err := engine.ComputeBlockHash(payload)
	if err != nil || el.tamper {
		hash = common.BigToHash(new(big.Int).SetUint64(0x1000 + number))
	}
	payload.BlockHash = hash

	if !el.repeatID || el.nextID == 0 {
		el.nextID++
	}
	var id types.PayloadID
	binary.BigEndian.PutUint64(id[:], el.nextID)
	el.pending[id] = payload
	return engine.NewForkchoiceUpdatedResponseV1(types.ForkchoiceUpdatedResponse{PayloadStatus: valid, PayloadID: &id}), nil
}

func (el *fakeEngine) setVerdict(kind types.PayloadStatusKind) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.verdict = kind
}

func (el *fakeEngine) setTamper(tamper bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.tamper = tamper
}

func (el *fakeEngine) setRepeatID(repeat bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.repeatID = repeat
}

func (el *fakeEngine) getPayloadCalls() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.fetched
}

func (el *fakeEngine) block(hash common.Hash) (ethereum.Header, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	header, ok := el.blocks[hash]
	return header, ok
}

func (el *fakeEngine) lastHead() types.ForkchoiceState {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.heads[len(el.heads)-1]
}

func (el *fakeEngine) randaoAt(number uint64) common.Hash {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.randao[number]
}

func (el *fakeEngine) injected() [][]byte {
	el.mu.Lock()
	defer el.mu.Unlock()
	return append([][]byte(nil), el.txs...)
}
