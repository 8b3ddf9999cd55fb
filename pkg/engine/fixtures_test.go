package engine

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/smallyunet/engineapi/pkg/types"
)

func testBase() types.PayloadBase {
	var bloom gethtypes.Bloom
	bloom[0] = 0x80
	bloom[255] = 0x01
	return types.PayloadBase{
		ParentHash:    common.HexToHash("0x3b8fb240d288781d4aac94d3fd16809ee413bc99294a085798a589dae51ddd4a"),
		FeeRecipient:  common.HexToAddress("0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b"),
		StateRoot:     common.HexToHash("0xca3149fa9e37db08d1cd49c9061db1002ef1cd58db2210f2115c8c989b2bdf45"),
		ReceiptsRoot:  common.HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421"),
		LogsBloom:     bloom,
		PrevRandao:    common.HexToHash("0x01"),
		BlockNumber:   1,
		GasLimit:      0x1c9c380,
		GasUsed:       0x5208,
		Timestamp:     0x5,
		ExtraData:     []byte{},
		BaseFeePerGas: *uint256.NewInt(7),
		BlockHash:     common.HexToHash("0x3559e851470f6e7bbed1db474980683e8c315bfce99b2a6ef47c057c04de7858"),
		Transactions:  [][]byte{{0x02, 0xf8, 0x70}, {0x01}},
	}
}

func testWithdrawals() []types.Withdrawal {
	return []types.Withdrawal{
		{Index: 0, Validator: 1, Address: common.HexToAddress("0x0000000000000000000000000000000000000a01"), Amount: 32_000_000_000},
		{Index: 1, Validator: 2, Address: common.HexToAddress("0x0000000000000000000000000000000000000a02"), Amount: 1},
	}
}

func testMerge() *types.ExecutionPayloadMerge {
	return &types.ExecutionPayloadMerge{PayloadBase: testBase()}
}

func testCapella() *types.ExecutionPayloadCapella {
	return &types.ExecutionPayloadCapella{PayloadBase: testBase(), Withdrawals: testWithdrawals()}
}

func testEip4844() *types.ExecutionPayloadEip4844 {
	return &types.ExecutionPayloadEip4844{
		PayloadBase:   testBase(),
		ExcessDataGas: *uint256.NewInt(0x20000),
		Withdrawals:   testWithdrawals(),
	}
}

func testPayloads() []types.ExecutionPayload {
	return []types.ExecutionPayload{testMerge(), testCapella(), testEip4844()}
}
