package streamrestore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/types"
)

// Store is the sqlite-backed persistence layer module-stream-restore.c
// implements with a flat-file database instead: one row per
// canonicalised stream identity, upserted by the Set* methods and read
// back by Read. The daemon only reads, once when a playback stream is
// created; it calls none of the Set* methods.
type Store struct {
	mu  sync.RWMutex
	db  *gorm.DB
	log commons.Logger
}

// Open opens (creating if absent) the sqlite database at path, runs
// pending migrations, and returns a ready Store. path may be ":memory:"
// for tests.
func Open(path string, log commons.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("streamrestore: open %s: %w", path, err)
	}
	if err := migrateUp(db, path); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// migrateUp drives golang-migrate off the same sqlite file gorm just
// opened, applying embedFS migrations (see migrations.go) to the
// latest version. A brand-new AutoMigrate-created schema and a
// migrate-managed one must agree, so AutoMigrate is not used here;
// golang-migrate owns the schema exclusively.
func migrateUp(db *gorm.DB, path string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("streamrestore: underlying *sql.DB: %w", err)
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("streamrestore: migrate driver: %w", err)
	}
	src, err := newMigrationSource()
	if err != nil {
		return fmt.Errorf("streamrestore: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, path, driver)
	if err != nil {
		return fmt.Errorf("streamrestore: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("streamrestore: migrate up: %w", err)
	}
	return nil
}

// Read loads the persisted entry for name, if any, matching
// module-stream-restore.c's read_entry.
func (s *Store) Read(name string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var e Entry
	err := s.db.Where("name = ?", name).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("streamrestore: read %s: %w", name, err)
	}
	return &e, true, nil
}

// SetVolume upserts the volume/channel-map fields for name, matching
// the DEVICE_UPDATED/VOLUME_UPDATED handling in module-stream-restore.c's
// subscribe callback.
func (s *Store) SetVolume(name string, m types.ChannelMap, v types.CVolume) error {
	return s.upsert(name, func(e *Entry) {
		e.VolumeValid = true
		e.ChannelMap = encodeChannelMap(m)
		e.Volume = encodeCVolume(v)
	})
}

// SetMute upserts the muted flag for name.
func (s *Store) SetMute(name string, muted bool) error {
	return s.upsert(name, func(e *Entry) {
		e.MutedValid = true
		e.Muted = muted
	})
}

// SetDevice upserts the preferred sink/source name for name, recording
// moves so a future stream with the same identity opens on the device
// it was last moved to.
func (s *Store) SetDevice(name, device string) error {
	return s.upsert(name, func(e *Entry) {
		e.DeviceValid = true
		e.Device = device
	})
}

// SetCard upserts the preferred card profile for name.
func (s *Store) SetCard(name, card string) error {
	return s.upsert(name, func(e *Entry) {
		e.CardValid = true
		e.Card = card
	})
}

func (s *Store) upsert(name string, mutate func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var e Entry
	err := s.db.Where("name = ?", name).First(&e).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e = Entry{Name: name}
	case err != nil:
		return fmt.Errorf("streamrestore: upsert lookup %s: %w", name, err)
	}
	mutate(&e)
	if err := s.db.Save(&e).Error; err != nil {
		return fmt.Errorf("streamrestore: upsert save %s: %w", name, err)
	}
	return nil
}

// DecodedVolume decodes Entry's stored channel map and volume back
// into their typed form, returning ok=false if VolumeValid is false.
func (e *Entry) DecodedVolume() (types.ChannelMap, types.CVolume, bool) {
	if !e.VolumeValid {
		return nil, nil, false
	}
	return decodeChannelMap(e.ChannelMap), decodeCVolume(e.Volume), true
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
