package kspr

import (
	"errors"
	"fmt"
	"kaswatch/internal/feed"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	tickerRe   = regexp.MustCompile(`Ticker:\s*(\S+)`)
	krc20Re    = regexp.MustCompile(`KRC20 Amount:\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	kasRe      = regexp.MustCompile(`KAS Amount:\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	ppuRe      = regexp.MustCompile(`Price per unit:\s*([0-9][0-9,]*(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?)`)
	contractRe = regexp.MustCompile(`Contract Address:\s*(\S+)`)
)

// ErrNotTransaction is returned for posts that are not transaction reports.
var ErrNotTransaction = errors.New("not a transaction post")

// Post is a parsed KSPR transaction report.
type Post struct {
	Ticker          string
	KRC20Amount     decimal.Decimal
	KASAmount       decimal.Decimal
	PricePerUnit    decimal.Decimal // zero when the post omits it
	ContractAddress string
}

// ParsePost extracts the transaction fields from a KSPR bot post. Ticker and
// both amounts are required.
func ParsePost(text string) (Post, error) {
	ticker := firstGroup(tickerRe, text)
	if ticker == "" {
		return Post{}, ErrNotTransaction
	}

	krc20, err := parseAmount(krc20Re, text, "KRC20 Amount")
	if err != nil {
		return Post{}, err
	}
	kas, err := parseAmount(kasRe, text, "KAS Amount")
	if err != nil {
		return Post{}, err
	}

	p := Post{
		Ticker:          ticker,
		KRC20Amount:     krc20,
		KASAmount:       kas,
		ContractAddress: firstGroup(contractRe, text),
	}
	if s := firstGroup(ppuRe, text); s != "" {
		if ppu, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "")); err == nil {
			p.PricePerUnit = ppu
		}
	}
	return p, nil
}

// Payload converts the post into the transfer payload published on the feed.
func (p Post) Payload(createdAt time.Time) feed.TransferPayload {
	return feed.TransferPayload{
		IDSource:    feed.KSPRSourceID,
		Ticker:      p.Ticker,
		KRC20Amount: p.KRC20Amount.InexactFloat64(),
		KASAmount:   p.KASAmount.InexactFloat64(),
		CreatedAt:   createdAt.UnixMilli(),
	}
}

func parseAmount(re *regexp.Regexp, text, field string) (decimal.Decimal, error) {
	s := firstGroup(re, text)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: missing %s", ErrNotTransaction, field)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
