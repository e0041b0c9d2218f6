// Package decoder turns raw transaction log bundles into structured trade
// events. Both decoders are pure: malformed input yields no event, never an
// error.
package decoder

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/mr-tron/base58"

	"kmonitor/internal/domain"
)

// Log line markers shared by both program families.
const (
	buyMarker         = "Program log: Instruction: Buy"
	sellMarker        = "Program log: Instruction: Sell"
	programDataPrefix = "Program data: "
	failedMarker      = "failed"
)

// pumpEventMinLen is discriminator (8) + mint (32) + sol (8) + token (8) +
// is_buy (1) + user (32) + timestamp (8) + four reserve fields (32).
const pumpEventMinLen = 129

// ParsePumpTrades extracts bonding curve trade events from one
// notification. Direction comes from the most recent instruction log line
// preceding each program-data record. Transactions with a failed
// instruction yield nothing.
func ParsePumpTrades(tx domain.TxLogs) []domain.TradeEvent {
	if !hasDirectionMarker(tx.Logs) {
		return nil
	}
	if hasFailedInstruction(tx.Logs) {
		return nil
	}

	var events []domain.TradeEvent
	isBuy := false
	for _, line := range tx.Logs {
		switch {
		case strings.Contains(line, buyMarker):
			isBuy = true
		case strings.Contains(line, sellMarker):
			isBuy = false
		}

		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		payload, ok := decodePumpPayload(strings.TrimPrefix(line, programDataPrefix))
		if !ok {
			continue
		}

		events = append(events, domain.TradeEvent{
			Signature:            tx.Signature,
			Slot:                 tx.Slot,
			Success:              tx.Success,
			Mint:                 payload.mint,
			User:                 payload.user,
			SolAmount:            payload.solAmount,
			TokenAmount:          payload.tokenAmount,
			IsBuy:                isBuy,
			Timestamp:            payload.timestamp,
			VirtualSolReserves:   payload.virtualSol,
			VirtualTokenReserves: payload.virtualToken,
			RealSolReserves:      payload.realSol,
			RealTokenReserves:    payload.realToken,
		})
	}
	return events
}

type pumpPayload struct {
	mint         string
	user         string
	solAmount    uint64
	tokenAmount  uint64
	timestamp    int64
	virtualSol   uint64
	virtualToken uint64
	realSol      uint64
	realToken    uint64
}

// decodePumpPayload reads the fixed little-endian layout of a bonding
// curve trade record. The is_buy byte at offset 56 is skipped: direction
// is taken from the log markers, not the payload.
func decodePumpPayload(data string) (pumpPayload, bool) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return pumpPayload{}, false
	}
	if len(raw) < pumpEventMinLen {
		return pumpPayload{}, false
	}

	return pumpPayload{
		mint:         base58.Encode(raw[8:40]),
		solAmount:    binary.LittleEndian.Uint64(raw[40:48]),
		tokenAmount:  binary.LittleEndian.Uint64(raw[48:56]),
		user:         base58.Encode(raw[57:89]),
		timestamp:    int64(binary.LittleEndian.Uint64(raw[89:97])),
		virtualSol:   binary.LittleEndian.Uint64(raw[97:105]),
		virtualToken: binary.LittleEndian.Uint64(raw[105:113]),
		realSol:      binary.LittleEndian.Uint64(raw[113:121]),
		realToken:    binary.LittleEndian.Uint64(raw[121:129]),
	}, true
}

func hasDirectionMarker(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, buyMarker) || strings.Contains(line, sellMarker) {
			return true
		}
	}
	return false
}

func hasFailedInstruction(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, failedMarker) {
			return true
		}
	}
	return false
}
