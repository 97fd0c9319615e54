package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// State do registro de idempotência para uma chave.
type State int

const (
	// StateReserved: primeira vez que a chave é vista; o chamador deve prosseguir.
	StateReserved State = iota
	// StateInProgress: outra requisição idêntica está em voo; rejeitar com retry-after.
	StateInProgress
	// StateHit: resultado já computado; devolver o payload cacheado.
	StateHit
)

// Check é o resultado de CheckOrReserve.
type Check struct {
	State   State
	Payload []byte // preenchido apenas em StateHit
}

// Store é o guard de idempotência do fluxo de lances.
// O marcador in-progress é gravado ANTES de qualquer efeito no ledger;
// o resultado é cacheado de forma síncrona logo após o commit.
type Store interface {
	CheckOrReserve(ctx context.Context, key string) (Check, error)
	Complete(ctx context.Context, key string, payload []byte) error
	Clear(ctx context.Context, key string) error
}

// Fingerprint deriva a chave de idempotência: usa a chave do cliente quando
// presente; senão colapsa duplicatas acidentais (double-click) no mesmo
// bucket de um segundo.
func Fingerprint(clientKey, auctionID, bidderID string, amountCents int64, now time.Time) string {
	if clientKey != "" {
		return "bid:idem:" + clientKey
	}
	raw := fmt.Sprintf("%s|%s|%d|%d", auctionID, bidderID, amountCents, now.Unix())
	sum := sha256.Sum256([]byte(raw))
	return "bid:idem:" + hex.EncodeToString(sum[:])
}
