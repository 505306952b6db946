package economy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/crypto/blake2b"
)

// FullShareBPS is a 100% share in basis points.
const FullShareBPS = 10000

// ClaimPayload is the canonical content of a claim attestation.
type ClaimPayload struct {
	Wallet  string  `json:"wallet"`
	Season  string  `json:"season"`
	NowUnix int64   `json:"now_unix"`
	MP      float64 `json:"mp"`
	TotalMP float64 `json:"total_mp"`
}

// Attestation is an opaque commitment over a claim payload. It is not a signature.
type Attestation struct {
	Payload              ClaimPayload `json:"payload"`
	Commitment           string       `json:"commitment"`
	HalvingMultiplierBPS int          `json:"halving_multiplier_bps"`
}

// ShareBPS returns clamp(round(mp/total*10000), 0, 10000); a zero total yields the full share.
func ShareBPS(mp, total float64) int {
	if total <= 0 {
		return FullShareBPS
	}
	bps := math.Round(mp / total * FullShareBPS)
	if bps < 0 {
		return 0
	}
	if bps > FullShareBPS {
		return FullShareBPS
	}
	return int(bps)
}

// Attest computes the blake2b-256 commitment of the JSON-encoded payload.
func Attest(p ClaimPayload) (Attestation, error) {
	msg, err := json.Marshal(p)
	if err != nil {
		return Attestation{}, fmt.Errorf("encode claim payload: %w", err)
	}
	sum := blake2b.Sum256(msg)
	return Attestation{
		Payload:              p,
		Commitment:           hex.EncodeToString(sum[:]),
		HalvingMultiplierBPS: ShareBPS(p.MP, p.TotalMP),
	}, nil
}
