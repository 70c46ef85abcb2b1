// ledger/events.go
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecyclingRecordedSignature is topic[0] of the contract's reward event.
var RecyclingRecordedSignature = crypto.Keccak256Hash([]byte("RecyclingRecorded(address,bytes32,uint256)"))

// Event is one decoded entry of a receipt's event feed.
type Event interface {
	eventName() string
}

// RecyclingRecorded is the event the contract emits when a recycling is
// credited. TokensEarned is the ledger-confirmed reward.
type RecyclingRecorded struct {
	User         string
	QRHash       string
	TokensEarned float64
}

func (RecyclingRecorded) eventName() string { return "RecyclingRecorded" }

// UnknownEvent is any other log emitted by the contract. Kept so callers can
// tell "no events at all" apart from "events we do not recognize".
type UnknownEvent struct {
	Topic string
}

func (UnknownEvent) eventName() string { return "unknown" }

// DecodeEvents turns a receipt's raw logs into typed events.
func DecodeEvents(logs []*gethtypes.Log) []Event {
	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		if ev, ok := decodeLog(lg); ok {
			events = append(events, ev)
			continue
		}
		events = append(events, UnknownEvent{Topic: lg.Topics[0].Hex()})
	}
	return events
}

func decodeLog(lg *gethtypes.Log) (Event, bool) {
	if len(lg.Topics) < 3 || lg.Topics[0] != RecyclingRecordedSignature {
		return nil, false
	}
	return RecyclingRecorded{
		User:         common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		QRHash:       lg.Topics[2].Hex(),
		TokensEarned: weiToTokens(new(big.Int).SetBytes(lg.Data)),
	}, true
}

// RecyclingReward scans an event feed for the first RecyclingRecorded entry.
// Absence is a distinct outcome, not an error; callers fall back to the
// read-only estimate and must flag the result as an estimate.
func RecyclingReward(events []Event) (float64, bool) {
	for _, ev := range events {
		if rec, ok := ev.(RecyclingRecorded); ok {
			return rec.TokensEarned, true
		}
	}
	return 0, false
}

// HashQRCodeID derives the on-chain correlation key for a QR code ID.
func HashQRCodeID(qrCodeID string) string {
	return crypto.Keccak256Hash([]byte(qrCodeID)).Hex()
}
