package cli

import (
	"context"
	"errors"

	"agora.org/internal/ranked"
	"agora.org/internal/store/mem"
	"agora.org/internal/store/pg"
)

// openService connects to PostgreSQL when a DSN is given and otherwise builds
// a seeded in-memory store. The returned func releases the store.
func openService(ctx context.Context, opts *RootOptions, f *OutputFormatter) (*ranked.Service, func(), error) {
	if opts.DSN != "" {
		if opts.Seed != "" {
			return nil, nil, errors.New("--seed only applies to the in-memory store")
		}
		store, err := pg.Open(opts.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		f.VerboseLog("connected to PostgreSQL")
		svc, err := ranked.NewService(store)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return svc, func() { _ = store.Close() }, nil
	}

	store := mem.New()
	if opts.Seed != "" {
		seed, err := LoadSeed(opts.Seed)
		if err != nil {
			return nil, nil, err
		}
		if err := seed.Apply(store); err != nil {
			return nil, nil, err
		}
		f.VerboseLog("seeded %d role(s) and %d board(s) from %s", len(seed.Roles), len(seed.Boards), opts.Seed)
	}
	svc, err := ranked.NewService(store)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() {}, nil
}
