package engine

import "time"

// Resolve aplica a regra de proxy inglês (second-price) a um lance contra os
// proxies ativos concorrentes. Puro: toda a E/S fica com o serviço.
//
// proxies pode incluir o proxy do próprio bidder; ele é ignorado na disputa.
func Resolve(a AuctionSnapshot, in Input, proxies []ProxyBid) (Outcome, error) {
	if a.Status != StatusActive {
		return Outcome{}, ErrAuctionNotActive
	}
	if !in.Now.Before(a.EndTime) {
		return Outcome{}, ErrAuctionEnded
	}
	if in.BidderID == a.SellerID {
		return Outcome{}, ErrSellerBid
	}
	if in.AmountCents <= 0 {
		return Outcome{}, ErrInvalidAmount
	}
	if in.AmountCents < a.MinBidCents() {
		return Outcome{}, ErrBidTooLow
	}

	top := topCompeting(proxies, in.BidderID)

	var out Outcome
	switch {
	case top == nil:
		out = resolveUncontested(a, in)

	case top.MaxAmountCents > in.AmountCents || (in.IsProxy && top.MaxAmountCents == in.AmountCents):
		// proxy estabelecido defende; empate favorece quem chegou primeiro
		price := minCents(in.AmountCents+a.IncrementCents, top.MaxAmountCents)
		var bids []BidRecord
		if !in.IsProxy {
			// lance manual perdedor entra primeiro no ledger
			bids = append(bids, BidRecord{BidderID: in.BidderID, AmountCents: in.AmountCents})
		}
		bids = append(bids, BidRecord{BidderID: top.BidderID, AmountCents: price, ProxyResolved: true})
		out = Outcome{
			PriceCents:     price,
			WinnerID:       top.BidderID,
			Bids:           bids,
			NewProxyOutbid: in.IsProxy,
			ProxyResolved:  true,
		}

	default:
		// agressor supera o melhor proxy: paga o máximo do perdedor + incremento,
		// nunca acima do próprio valor
		price := minCents(in.AmountCents, top.MaxAmountCents+a.IncrementCents)
		out = Outcome{
			PriceCents:        price,
			WinnerID:          in.BidderID,
			Bids:              []BidRecord{{BidderID: in.BidderID, AmountCents: price, ProxyResolved: in.IsProxy}},
			DeactivateProxyOf: top.BidderID,
			ProxyResolved:     in.IsProxy,
		}
	}

	if len(out.Bids) > 0 {
		out.NewEndTime = extendForSnipe(a, in.Now)
	}
	return out, nil
}

// resolveUncontested trata o caso sem proxy concorrente.
func resolveUncontested(a AuctionSnapshot, in Input) Outcome {
	if in.IsProxy {
		if a.LeaderID == in.BidderID {
			// já lidera: o proxy fica armado sem mexer no preço
			return Outcome{PriceCents: a.CurrentPriceCents, WinnerID: in.BidderID}
		}
		// proxy novo assume "de graça" exatamente no lance mínimo
		price := a.MinBidCents()
		return Outcome{
			PriceCents:    price,
			WinnerID:      in.BidderID,
			Bids:          []BidRecord{{BidderID: in.BidderID, AmountCents: price, ProxyResolved: true}},
			ProxyResolved: true,
		}
	}
	return Outcome{
		PriceCents: in.AmountCents,
		WinnerID:   in.BidderID,
		Bids:       []BidRecord{{BidderID: in.BidderID, AmountCents: in.AmountCents}},
	}
}

// topCompeting escolhe o proxy concorrente de maior máximo, desempatando pelo
// mais antigo (first mover ganha empates).
func topCompeting(proxies []ProxyBid, bidderID string) *ProxyBid {
	var top *ProxyBid
	for i := range proxies {
		p := &proxies[i]
		if p.BidderID == bidderID {
			continue
		}
		if top == nil ||
			p.MaxAmountCents > top.MaxAmountCents ||
			(p.MaxAmountCents == top.MaxAmountCents && p.CreatedAt.Before(top.CreatedAt)) {
			top = p
		}
	}
	return top
}

// extendForSnipe estende o encerramento para now + janela quando o lance cai
// dentro da janela de proteção. Sempre a partir de "now", nunca aditivo.
func extendForSnipe(a AuctionSnapshot, now time.Time) time.Time {
	if a.SnipeWindow <= 0 {
		return time.Time{}
	}
	if a.EndTime.Sub(now) >= a.SnipeWindow {
		return time.Time{}
	}
	return now.Add(a.SnipeWindow)
}

func minCents(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
