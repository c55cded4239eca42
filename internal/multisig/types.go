package multisig

import (
	"bytes"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Confirmation is one owner signature attached to a pending transaction.
type Confirmation struct {
	Owner       common.Address `json:"owner"`
	Signature   string         `json:"signature"`
	SubmittedAt time.Time      `json:"submissionDate"`
}

// DecodedParameter is a single decoded calldata argument.
type DecodedParameter struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// DecodedCall is the transaction service's decoding of the proposal calldata.
type DecodedCall struct {
	Method     string             `json:"method"`
	Parameters []DecodedParameter `json:"parameters"`
}

// Transaction mirrors the Safe Transaction Service pending-transaction
// payload. The engine treats it as an opaque value type; only the hash,
// the decoded method, the value and the confirmation state are inspected.
type Transaction struct {
	SafeTxHash            common.Hash    `json:"safeTxHash"`
	To                    common.Address `json:"to"`
	Value                 string         `json:"value"`
	Data                  string         `json:"data"`
	Operation             uint8          `json:"operation"`
	SafeTxGas             int64          `json:"safeTxGas"`
	BaseGas               int64          `json:"baseGas"`
	GasPrice              string         `json:"gasPrice"`
	GasToken              common.Address `json:"gasToken"`
	RefundReceiver        common.Address `json:"refundReceiver"`
	Nonce                 uint64         `json:"nonce"`
	ConfirmationsRequired int            `json:"confirmationsRequired"`
	Confirmations         []Confirmation `json:"confirmations"`
	DataDecoded           *DecodedCall   `json:"dataDecoded"`
	SubmittedAt           time.Time      `json:"submissionDate"`
	IsExecuted            bool           `json:"isExecuted"`
}

// DecodedMethod returns the decoded contract method name, or "" when the
// service could not decode the calldata.
func (t *Transaction) DecodedMethod() string {
	if t == nil || t.DataDecoded == nil {
		return ""
	}
	return t.DataDecoded.Method
}

// ValueBig parses the decimal wei value carried by the proposal.
func (t *Transaction) ValueBig() *big.Int {
	if t == nil || t.Value == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// HasConfirmed reports whether the given owner already signed the proposal.
func (t *Transaction) HasConfirmed(owner common.Address) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Confirmations {
		if c.Owner == owner {
			return true
		}
	}
	return false
}

// ThresholdMet reports whether enough owner signatures were collected.
func (t *Transaction) ThresholdMet() bool {
	if t == nil {
		return false
	}
	return t.ConfirmationsRequired > 0 && len(t.Confirmations) >= t.ConfirmationsRequired
}

// PackedSignatures concatenates the collected signatures sorted by owner
// address, the layout execTransaction expects on-chain.
func (t *Transaction) PackedSignatures() []byte {
	confirmations := append([]Confirmation(nil), t.Confirmations...)
	sort.Slice(confirmations, func(i, j int) bool {
		return bytes.Compare(confirmations[i].Owner.Bytes(), confirmations[j].Owner.Bytes()) < 0
	})
	var packed []byte
	for _, c := range confirmations {
		packed = append(packed, common.FromHex(c.Signature)...)
	}
	return packed
}
