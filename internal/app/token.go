package app

import (
	"context"
	"fmt"
	"io"
)

// ExchangeMetaToken swaps a short-lived user token for a long-lived one and
// prints it. The configured token is not rewritten.
func (a *App) ExchangeMetaToken(ctx context.Context, out io.Writer, shortLivedToken string) error {
	cfg := a.Config.Meta
	tok, err := a.newMeta().ExchangeToken(ctx, cfg.AppID, cfg.AppSecret, shortLivedToken)
	if err != nil {
		return fmt.Errorf("exchange token: %w", err)
	}

	fmt.Fprintf(out, "access_token: %s\n", tok.AccessToken)
	if tok.ExpiresIn > 0 {
		fmt.Fprintf(out, "expires_in:   %s (%d days)\n", tok.ExpiresIn, int(tok.ExpiresIn.Hours()/24))
	}
	fmt.Fprintln(out, "set meta.access_token (ALERTCPL_META_ACCESS_TOKEN) to this value")
	return nil
}
