// ledger/events_test.go
package ledger

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func rewardLog(user common.Address, qrHash common.Hash, tokens float64) *gethtypes.Log {
	data := make([]byte, 32)
	tokensToWei(tokens).FillBytes(data)
	return &gethtypes.Log{
		Topics: []common.Hash{
			RecyclingRecordedSignature,
			common.BytesToHash(user.Bytes()),
			qrHash,
		},
		Data: data,
	}
}

func TestDecodeEventsRecognizesReward(t *testing.T) {
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	qrHash := common.HexToHash(HashQRCodeID("QR-abc"))

	events := DecodeEvents([]*gethtypes.Log{rewardLog(user, qrHash, 25)})
	require.Len(t, events, 1)

	rec, ok := events[0].(RecyclingRecorded)
	require.True(t, ok, "expected RecyclingRecorded, got %T", events[0])
	require.Equal(t, user.Hex(), rec.User)
	require.Equal(t, qrHash.Hex(), rec.QRHash)
	require.InDelta(t, 25, rec.TokensEarned, 1e-9)
}

func TestDecodeEventsKeepsUnrecognizedLogs(t *testing.T) {
	otherTopic := common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000000")
	logs := []*gethtypes.Log{
		{Topics: []common.Hash{otherTopic}},
		nil,
		{}, // no topics
	}

	events := DecodeEvents(logs)
	require.Len(t, events, 1)

	unknown, ok := events[0].(UnknownEvent)
	require.True(t, ok, "expected UnknownEvent, got %T", events[0])
	require.Equal(t, otherTopic.Hex(), unknown.Topic)
}

func TestDecodeEventsRejectsShortRewardLog(t *testing.T) {
	// Right signature but missing indexed topics: treated as unknown, not
	// misdecoded.
	events := DecodeEvents([]*gethtypes.Log{{Topics: []common.Hash{RecyclingRecordedSignature}}})
	require.Len(t, events, 1)
	_, ok := events[0].(UnknownEvent)
	require.True(t, ok)
}

func TestRecyclingRewardAbsence(t *testing.T) {
	_, ok := RecyclingReward(nil)
	require.False(t, ok)

	_, ok = RecyclingReward([]Event{UnknownEvent{Topic: "0xabc"}})
	require.False(t, ok, "unknown events alone must not yield a reward")

	reward, ok := RecyclingReward([]Event{
		UnknownEvent{Topic: "0xabc"},
		RecyclingRecorded{TokensEarned: 7.5},
	})
	require.True(t, ok)
	require.Equal(t, 7.5, reward)
}

func TestHashQRCodeIDIsStable(t *testing.T) {
	h1 := HashQRCodeID("QR-abc")
	h2 := HashQRCodeID("QR-abc")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, HashQRCodeID("QR-abd"))
	require.True(t, strings.HasPrefix(h1, "0x"))
	require.Len(t, h1, 66)
}

func TestWeiTokenRoundTrip(t *testing.T) {
	for _, tokens := range []float64{0, 1, 10, 12.5, 1234.567} {
		back := weiToTokens(tokensToWei(tokens))
		require.InDelta(t, tokens, back, 1e-6, "round trip of %v", tokens)
	}
	require.Equal(t, float64(1), weiToTokens(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
}
