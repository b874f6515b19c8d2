package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models/events"
)

func TestNewMessageKeysByAccount(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ev := events.NewLoanRepaid(user, uint256.NewInt(105), time.Unix(0, 0).UTC())

	msg, err := newMessage(ev.EventName(), ev)
	require.NoError(t, err)

	assert.Equal(t, user.Hex(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "LoanRepaid", string(msg.Headers[0].Value))

	var decoded events.LoanRepaid
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "105", decoded.TotalAmount)
	assert.Equal(t, ev.EventID, decoded.EventID)
}

func TestNewMessageWithoutAccount(t *testing.T) {
	msg, err := newMessage("Custom", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Nil(t, msg.Key)
	assert.JSONEq(t, `{"a":"b"}`, string(msg.Value))
}
