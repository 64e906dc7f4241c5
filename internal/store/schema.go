// ABOUTME: Schema manager: stamps and upgrades the on-disk layout version at open
// ABOUTME: All pending steps run in one write transaction; newer stores fail closed

package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the layout version this code creates and reads.
const CurrentSchemaVersion = 3

// migration is one additive, idempotent schema step. Backends implement the
// step for their own layout in applyMigration.
type migration struct {
	version     int
	description string
}

var migrations = []migration{
	{version: 1, description: "create message collection with delivery, sender, receiver and timestamp indexes"},
	{version: 2, description: "add read index"},
	{version: 3, description: "record highest assigned key"},
}

// migrate brings the store to CurrentSchemaVersion and returns the version
// it ends at.
func (s *Store) migrate(ctx context.Context) (int, error) {
	var (
		stored  int
		applied []migration
	)

	err := s.withTx(ctx, ReadWrite, func(t txn) error {
		var err error
		stored, err = t.schemaVersion()
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		if stored > CurrentSchemaVersion {
			return fmt.Errorf("%w: store is at version %d, newest supported is %d",
				ErrUnsupportedVersion, stored, CurrentSchemaVersion)
		}

		for _, m := range migrations {
			if m.version <= stored {
				continue
			}
			if err := t.applyMigration(m.version); err != nil {
				return fmt.Errorf("applying migration %d (%s): %w", m.version, m.description, err)
			}
			if err := t.setSchemaVersion(m.version); err != nil {
				return fmt.Errorf("setting schema version %d: %w", m.version, err)
			}
			applied = append(applied, m)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, m := range applied {
		s.logger.Info("applied migration", "version", m.version, "description", m.description)
	}
	if stored == 0 {
		s.logger.Info("created new message store", "schema_version", CurrentSchemaVersion)
	}
	return CurrentSchemaVersion, nil
}
