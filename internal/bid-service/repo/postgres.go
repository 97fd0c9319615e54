package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/auction-platform-poc/internal/bid-service/engine"
)

var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNotActive       = errors.New("auction not active")
	ErrNotDue          = errors.New("auction not due for closing")
	// ErrVersionConflict: o snapshot usado na resolução ficou velho.
	// Não deveria ocorrer com o mutex distribuído; o check garante o
	// single-writer mesmo se o mutex for contornado.
	ErrVersionConflict = errors.New("auction version conflict")
)

// Postgres implementa o ledger transacional de leilões, lances e proxies.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Auction carrega o leilão pelo id.
func (p *Postgres) Auction(ctx context.Context, auctionID string) (Auction, error) {
	const q = `
		SELECT id, seller_id, starting_price_cents, current_price_cents,
		       COALESCE(reserve_price_cents, 0), increment_cents,
		       start_time, end_time, snipe_window_secs,
		       status, COALESCE(result, ''), COALESCE(winner_id, ''), version,
		       created_at, updated_at
		FROM auctions WHERE id = $1`
	var a Auction
	err := p.db.QueryRowContext(ctx, q, auctionID).Scan(
		&a.ID, &a.SellerID, &a.StartingPriceCents, &a.CurrentPriceCents,
		&a.ReservePriceCents, &a.IncrementCents,
		&a.StartTime, &a.EndTime, &a.SnipeWindowSecs,
		&a.Status, &a.Result, &a.WinnerID, &a.Version,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Auction{}, ErrAuctionNotFound
	}
	return a, err
}

// AuctionForBidding monta o snapshot da resolução: leilão, líder atual e
// proxies ativos. O filtro do proxy do próprio bidder fica com o engine.
func (p *Postgres) AuctionForBidding(ctx context.Context, auctionID string) (engine.AuctionSnapshot, []engine.ProxyBid, error) {
	a, err := p.Auction(ctx, auctionID)
	if err != nil {
		return engine.AuctionSnapshot{}, nil, err
	}

	snap := engine.AuctionSnapshot{
		ID:                a.ID,
		SellerID:          a.SellerID,
		CurrentPriceCents: a.CurrentPriceCents,
		IncrementCents:    a.IncrementCents,
		ReservePriceCents: a.ReservePriceCents,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		SnipeWindow:       time.Duration(a.SnipeWindowSecs) * time.Second,
		Status:            a.Status,
		Version:           a.Version,
	}

	err = p.db.QueryRowContext(ctx,
		`SELECT bidder_id FROM bids WHERE auction_id=$1 ORDER BY seq DESC LIMIT 1`,
		auctionID).Scan(&snap.LeaderID)
	if err != nil && err != sql.ErrNoRows {
		return engine.AuctionSnapshot{}, nil, err
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT auction_id, bidder_id, max_amount_cents, created_at
		 FROM proxy_bids WHERE auction_id=$1 AND active`, auctionID)
	if err != nil {
		return engine.AuctionSnapshot{}, nil, err
	}
	defer rows.Close()

	var proxies []engine.ProxyBid
	for rows.Next() {
		var pb engine.ProxyBid
		if err := rows.Scan(&pb.AuctionID, &pb.BidderID, &pb.MaxAmountCents, &pb.CreatedAt); err != nil {
			return engine.AuctionSnapshot{}, nil, err
		}
		proxies = append(proxies, pb)
	}
	return snap, proxies, rows.Err()
}

// CommitResolution aplica a resolução de forma atômica: update do leilão,
// inserts dos lances e mudanças de proxy ou tudo entra ou nada entra.
// Relê a linha com FOR UPDATE e confere a versão do snapshot.
func (p *Postgres) CommitResolution(ctx context.Context, res Resolution) ([]Bid, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT status, version FROM auctions WHERE id=$1 FOR UPDATE`,
		res.AuctionID).Scan(&status, &version)
	if err == sql.ErrNoRows {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != engine.StatusActive {
		return nil, ErrNotActive
	}
	if version != res.ExpectedVersion {
		return nil, ErrVersionConflict
	}

	if res.NewEndTime.IsZero() {
		_, err = tx.ExecContext(ctx,
			`UPDATE auctions SET current_price_cents=$1, version=version+1, updated_at=NOW() WHERE id=$2`,
			res.NewPriceCents, res.AuctionID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE auctions SET current_price_cents=$1, end_time=$2, version=version+1, updated_at=NOW() WHERE id=$3`,
			res.NewPriceCents, res.NewEndTime, res.AuctionID)
	}
	if err != nil {
		return nil, err
	}

	var lastSeq int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM bids WHERE auction_id=$1`,
		res.AuctionID).Scan(&lastSeq); err != nil {
		return nil, err
	}

	inserted := make([]Bid, 0, len(res.Bids))
	for i, br := range res.Bids {
		b := Bid{
			ID:            uuid.NewString(),
			AuctionID:     res.AuctionID,
			BidderID:      br.BidderID,
			AmountCents:   br.AmountCents,
			Seq:           lastSeq + int64(i) + 1,
			ProxyResolved: br.ProxyResolved,
		}
		if err = tx.QueryRowContext(ctx,
			`INSERT INTO bids (id, auction_id, bidder_id, amount_cents, seq, proxy_resolved)
			 VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`,
			b.ID, b.AuctionID, b.BidderID, b.AmountCents, b.Seq, b.ProxyResolved,
		).Scan(&b.CreatedAt); err != nil {
			return nil, err
		}
		inserted = append(inserted, b)
	}

	if res.DeactivateProxyOf != "" {
		if _, err = tx.ExecContext(ctx,
			`UPDATE proxy_bids SET active=false, updated_at=NOW() WHERE auction_id=$1 AND bidder_id=$2 AND active`,
			res.AuctionID, res.DeactivateProxyOf); err != nil {
			return nil, err
		}
	}

	if res.Proxy != nil {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO proxy_bids (auction_id, bidder_id, max_amount_cents, active)
			 VALUES ($1,$2,$3,$4)
			 ON CONFLICT (auction_id, bidder_id) DO UPDATE SET
			   max_amount_cents = EXCLUDED.max_amount_cents,
			   active           = EXCLUDED.active,
			   updated_at       = NOW()`,
			res.AuctionID, res.Proxy.BidderID, res.Proxy.MaxAmountCents, res.Proxy.Active); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

// UpsertProxy grava o proxy quando a resolução não mexe no leilão
// (líder subindo o próprio máximo).
func (p *Postgres) UpsertProxy(ctx context.Context, auctionID string, up ProxyUpsert) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO proxy_bids (auction_id, bidder_id, max_amount_cents, active)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (auction_id, bidder_id) DO UPDATE SET
		   max_amount_cents = EXCLUDED.max_amount_cents,
		   active           = EXCLUDED.active,
		   updated_at       = NOW()`,
		auctionID, up.BidderID, up.MaxAmountCents, up.Active)
	return err
}

// CancelProxy desativa o proxy do bidder para o leilão.
func (p *Postgres) CancelProxy(ctx context.Context, auctionID, bidderID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE proxy_bids SET active=false, updated_at=NOW() WHERE auction_id=$1 AND bidder_id=$2 AND active`,
		auctionID, bidderID)
	return err
}

// BidHistory retorna os lances do leilão, mais recentes primeiro.
func (p *Postgres) BidHistory(ctx context.Context, auctionID string, limit int) ([]Bid, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, auction_id, bidder_id, amount_cents, seq, proxy_resolved, created_at
		 FROM bids WHERE auction_id=$1 ORDER BY seq DESC LIMIT $2`,
		auctionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bid
	for rows.Next() {
		var b Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.AmountCents, &b.Seq, &b.ProxyResolved, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DueAuctions lista leilões ativos com end_time vencido; é o "índice de
// agenda" do closer (a extensão por snipe reagenda via o próprio end_time).
func (p *Postgres) DueAuctions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM auctions WHERE status=$1 AND end_time <= $2 ORDER BY end_time LIMIT $3`,
		engine.StatusActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CloseAuction encerra um leilão de forma atômica: decide o resultado,
// grava status terminal, desativa todos os proxies e devolve o necessário
// para notificações. force ignora o end_time (admin force-close).
func (p *Postgres) CloseAuction(ctx context.Context, auctionID string, now time.Time, force bool) (CloseResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return CloseResult{}, err
	}
	defer tx.Rollback()

	var (
		sellerID          string
		status            string
		endTime           time.Time
		reserveCents      sql.NullInt64
		currentPriceCents int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT seller_id, status, end_time, reserve_price_cents, current_price_cents
		 FROM auctions WHERE id=$1 FOR UPDATE`, auctionID).
		Scan(&sellerID, &status, &endTime, &reserveCents, &currentPriceCents)
	if err == sql.ErrNoRows {
		return CloseResult{}, ErrAuctionNotFound
	}
	if err != nil {
		return CloseResult{}, err
	}
	if status != engine.StatusActive {
		return CloseResult{}, ErrNotActive
	}
	// um lance com snipe protection pode ter empurrado o end_time depois
	// do scan de vencidos; nesse caso o leilão ainda não encerra
	if !force && endTime.After(now) {
		return CloseResult{}, ErrNotDue
	}

	res := CloseResult{AuctionID: auctionID, SellerID: sellerID, FinalPriceCents: currentPriceCents}

	var highBidder string
	var highAmount int64
	err = tx.QueryRowContext(ctx,
		`SELECT bidder_id, amount_cents FROM bids WHERE auction_id=$1 ORDER BY seq DESC LIMIT 1`,
		auctionID).Scan(&highBidder, &highAmount)
	switch {
	case err == sql.ErrNoRows:
		res.Result = ResultNoBids
	case err != nil:
		return CloseResult{}, err
	case reserveCents.Valid && reserveCents.Int64 > 0 && highAmount < reserveCents.Int64:
		// encerra sem vencedor, mas o maior lance fica visível ao vendedor
		res.Result = ResultReserveNotMet
		res.HighBidCents = highAmount
		res.HighBidderID = highBidder
	default:
		res.Result = ResultWinner
		res.WinnerID = highBidder
		res.HighBidCents = highAmount
		res.HighBidderID = highBidder
	}

	var winner any
	if res.WinnerID != "" {
		winner = res.WinnerID
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE auctions SET status=$1, result=$2, winner_id=$3, version=version+1, updated_at=NOW() WHERE id=$4`,
		engine.StatusEnded, res.Result, winner, auctionID); err != nil {
		return CloseResult{}, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE proxy_bids SET active=false, updated_at=NOW() WHERE auction_id=$1 AND active`,
		auctionID); err != nil {
		return CloseResult{}, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT bidder_id FROM bids WHERE auction_id=$1 AND bidder_id <> $2`,
		auctionID, res.WinnerID)
	if err != nil {
		return CloseResult{}, err
	}
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			rows.Close()
			return CloseResult{}, err
		}
		res.Losers = append(res.Losers, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return CloseResult{}, err
	}
	rows.Close()

	if err = tx.Commit(); err != nil {
		return CloseResult{}, err
	}
	return res, nil
}
