package app

import (
	"context"
	"fmt"
	"io"
)

// SyncNames refreshes account display names from the ads platform.
func (a *App) SyncNames(ctx context.Context, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStorage
	}
	defer closeStore()

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	meta := a.newMeta()
	var updated, failed int
	for _, acc := range accounts {
		name, err := meta.FetchAccountName(ctx, acc.ExternalID)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("external_id", acc.ExternalID).Msg("failed to fetch account name")
			continue
		}
		if name == "" || name == acc.Name {
			continue
		}
		if err := store.UpdateAccountName(ctx, acc.ID, name); err != nil {
			failed++
			a.Logger.Error().Err(err).Int64("account_id", acc.ID).Msg("failed to update account name")
			continue
		}
		updated++
		fmt.Fprintf(out, "%s: %q -> %q\n", acc.ExternalID, acc.Name, name)
	}

	fmt.Fprintf(out, "accounts: %d, renamed: %d, failed: %d\n", len(accounts), updated, failed)
	return nil
}

// Migrate applies the embedded schema to the configured database.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStorage
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("schema applied")
	return nil
}
