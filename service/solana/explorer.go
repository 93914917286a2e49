package solana

import (
	"net/url"
	"strings"
)

// Explorer builds links into the Solana block explorer for one network.
type Explorer struct {
	BaseURL string
	Network string
}

// NewExplorer returns an Explorer. An empty baseURL means explorer.solana.com.
func NewExplorer(baseURL, network string) Explorer {
	if baseURL == "" {
		baseURL = "https://explorer.solana.com"
	}
	return Explorer{BaseURL: strings.TrimRight(baseURL, "/"), Network: network}
}

// Transaction links to a transaction signature.
func (e Explorer) Transaction(signature string) string {
	return e.link("tx", signature)
}

// Address links to a wallet or account.
func (e Explorer) Address(address string) string {
	return e.link("address", address)
}

// Token links to a token mint.
func (e Explorer) Token(mint string) string {
	// the explorer renders mints on its address page
	return e.link("address", mint)
}

func (e Explorer) link(kind, value string) string {
	u := e.BaseURL + "/" + kind + "/" + url.PathEscape(value)
	switch e.Network {
	case "", "mainnet", "mainnet-beta":
		return u
	default:
		return u + "?cluster=" + url.QueryEscape(e.Network)
	}
}
