package decoder

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/mr-tron/base58"

	"kmonitor/internal/domain"
)

// ammEventMinLen covers the fields read up to and including the user
// address at offset 152..184, with the slack the on-chain event always
// carries after it.
const ammEventMinLen = 200

// ParseAmmTrade extracts one AMM swap event from a notification. The AMM
// program emits one trade event per swap; an AMM swap and its inner
// transfers can produce several program-data records, and only the first
// one following the direction marker is authoritative. Direction is taken
// from the Buy/Sell instruction log line, never inferred from the payload.
func ParseAmmTrade(tx domain.TxLogs) *domain.AmmTradeEvent {
	invoked := false
	for _, line := range tx.Logs {
		if strings.Contains(line, "Program "+domain.PumpAMMProgram+" invoke") {
			invoked = true
			break
		}
	}
	if !invoked {
		return nil
	}
	if hasFailedInstruction(tx.Logs) {
		return nil
	}

	var isBuy, haveDirection bool
	for _, line := range tx.Logs {
		if strings.Contains(line, buyMarker) {
			isBuy, haveDirection = true, true
			break
		}
		if strings.Contains(line, sellMarker) {
			isBuy, haveDirection = false, true
			break
		}
	}
	if !haveDirection {
		return nil
	}

	for _, line := range tx.Logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		payload, ok := decodeAmmPayload(strings.TrimPrefix(line, programDataPrefix))
		if !ok {
			continue
		}

		return &domain.AmmTradeEvent{
			Signature:              tx.Signature,
			Slot:                   tx.Slot,
			Success:                tx.Success,
			Pool:                   payload.pool,
			User:                   payload.user,
			SolAmount:              payload.quoteAmount,
			TokenAmount:            payload.baseAmount,
			IsBuy:                  isBuy,
			Timestamp:              payload.timestamp,
			PoolBaseTokenReserves:  payload.poolBaseReserves,
			PoolQuoteTokenReserves: payload.poolQuoteReserves,
			LpFee:                  payload.lpFee,
			ProtocolFee:            payload.protocolFee,
			CoinCreatorFee:         payload.coinCreatorFee,
		}
	}
	return nil
}

type ammPayload struct {
	timestamp         int64
	baseAmount        uint64 // token side: baseAmountOut (buy) / baseAmountIn (sell)
	quoteAmount       uint64 // SOL side: quoteAmountIn (buy) / quoteAmountOut (sell)
	poolBaseReserves  uint64
	poolQuoteReserves uint64
	lpFee             uint64
	protocolFee       uint64
	coinCreatorFee    uint64
	pool              string
	user              string
}

// decodeAmmPayload reads the fixed little-endian layout of an AMM swap
// record. Offsets skip the quote limit, user reserve snapshot, basis-point
// fields and token-account addresses the aggregator has no use for.
func decodeAmmPayload(data string) (ammPayload, bool) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return ammPayload{}, false
	}
	if len(raw) < ammEventMinLen {
		return ammPayload{}, false
	}

	p := ammPayload{
		timestamp:         int64(binary.LittleEndian.Uint64(raw[8:16])),
		baseAmount:        binary.LittleEndian.Uint64(raw[16:24]),
		poolBaseReserves:  binary.LittleEndian.Uint64(raw[48:56]),
		poolQuoteReserves: binary.LittleEndian.Uint64(raw[56:64]),
		quoteAmount:       binary.LittleEndian.Uint64(raw[64:72]),
		lpFee:             binary.LittleEndian.Uint64(raw[80:88]),
		protocolFee:       binary.LittleEndian.Uint64(raw[96:104]),
		pool:              base58.Encode(raw[120:152]),
		user:              base58.Encode(raw[152:184]),
	}
	// coinCreatorFee sits past five skipped addresses and a basis-point
	// field; older event revisions end before it.
	if len(raw) >= 360 {
		p.coinCreatorFee = binary.LittleEndian.Uint64(raw[352:360])
	}
	return p, true
}
