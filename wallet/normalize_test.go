package wallet

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func addrPtr(fill byte) *common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return &addr
}

func TestNormalizeTxPrefersDataOverInput(t *testing.T) {
	data := hexutil.Bytes{0x01, 0x02}
	input := hexutil.Bytes{0xab, 0xcd}
	tx, err := NormalizeTx(TxArgs{From: addrPtr(0x11), Data: &data, Input: &input})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if tx.Data.String() != data.String() {
		t.Fatalf("expected data %s, got %s", data, tx.Data)
	}
}

func TestNormalizeTxFallsBackToInput(t *testing.T) {
	input := hexutil.Bytes{0xab, 0xcd}
	tx, err := NormalizeTx(TxArgs{From: addrPtr(0x11), Input: &input})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if tx.Data.String() != input.String() {
		t.Fatalf("expected input to be promoted to data, got %s", tx.Data)
	}
}

func TestNormalizeTxMapsGasToGasLimit(t *testing.T) {
	gas := hexutil.Uint64(0x5208)
	tx, err := NormalizeTx(TxArgs{From: addrPtr(0x11), Gas: &gas})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if tx.GasLimit == nil || *tx.GasLimit != gas {
		t.Fatalf("expected gas limit %v, got %v", gas, tx.GasLimit)
	}
}

func TestNormalizeTxStripsNonce(t *testing.T) {
	nonce := hexutil.Uint64(7)
	tx, err := NormalizeTx(TxArgs{From: addrPtr(0x11), Nonce: &nonce})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// The canonical shape has no nonce field at all; make sure none of the
	// carried fields smuggled it through.
	if tx.GasLimit != nil || tx.Value != nil {
		t.Fatalf("unexpected fields populated: %+v", tx)
	}
}

func TestNormalizeTxRequiresSender(t *testing.T) {
	_, err := NormalizeTx(TxArgs{To: addrPtr(0x22)})
	if err == nil {
		t.Fatalf("expected error for missing sender")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params error, got %v", err)
	}
}
