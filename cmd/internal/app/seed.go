package app

import (
	"fmt"

	"streamgate/cmd/identity"
	"streamgate/cmd/internal/stream"
)

// devSeed provisions one viewer account (and optionally a stream assignment)
// in the in-memory stores, so a dev server is usable out of the box.
func devSeed(cfg Config, log Logger, users *identity.MemoryStore, dir *stream.MemoryDirectory) error {
	if cfg.DevSeedUsername == "" {
		return nil
	}
	if cfg.DevSeedPassword == "" {
		return fmt.Errorf("dev seed: STREAMGATE_DEV_SEED_PASSWORD is required when a seed username is set")
	}

	u, err := users.Seed(identity.SeedInput{
		Username:   cfg.DevSeedUsername,
		Password:   cfg.DevSeedPassword,
		MaxDevices: cfg.DevSeedDevices,
	})
	if err != nil {
		return fmt.Errorf("dev seed: %w", err)
	}

	if cfg.DevSeedStreamURL != "" {
		dir.Assign(u.ID, cfg.DevSeedStreamURL)
	}

	log.Info("dev.seeded", "username", u.Username, "user_id", u.ID, "max_devices", u.MaxDevices)
	return nil
}
