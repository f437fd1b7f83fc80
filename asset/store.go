// videocursor/asset/store.go
package asset

import (
	"errors"
	"fmt"
	"io"
	golog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"videocursor/config"
)

var (
	ErrNotFound = errors.New("asset not found")
	ErrConflict = errors.New("asset has in-flight dependents")
)

// Store owns the uploads/ and outputs/ trees and the sqlite index that
// maps asset ids to them. No other component writes files directly.
type Store struct {
	dataDir   string
	uploadDir string
	outputDir string
	db        *gorm.DB
	log       *logrus.Logger
	inFlight  func(id string) bool
}

func NewStore(cfg *config.Config, log *logrus.Logger) (*Store, error) {
	for _, dir := range []string{cfg.DataDir, cfg.UploadDir(), cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("could not create %s: %w", dir, err)
		}
	}

	gl := gormlogger.New(
		golog.New(os.Stdout, "\r\n", golog.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(cfg.IndexPath()), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("could not open asset index: %w", err)
	}

	// single connection so sqlite never sees concurrent writes
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Asset{}); err != nil {
		return nil, fmt.Errorf("could not migrate asset index: %w", err)
	}

	return &Store{
		dataDir:   cfg.DataDir,
		uploadDir: cfg.UploadDir(),
		outputDir: cfg.OutputDir(),
		db:        db,
		log:       log,
	}, nil
}

// SaveUpload streams an uploaded file into the uploads tree and registers
// it as a root asset. The display name is kept for UX only; identity is
// the generated id.
func (s *Store) SaveUpload(filename string, src io.Reader) (*Asset, error) {
	id := uuid.NewString()
	ext := filepath.Ext(filename)
	rel := filepath.Join("uploads", id+ext)
	abs := filepath.Join(s.uploadDir, id+ext)

	dst, err := os.Create(abs)
	if err != nil {
		return nil, err
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(abs)
		return nil, fmt.Errorf("could not store upload: %w", err)
	}

	a := &Asset{
		ID:          id,
		Kind:        KindForExt(ext),
		StoragePath: rel,
		DisplayName: filepath.Base(filename),
		Size:        written,
		Origin:      OriginUpload,
	}
	if err := s.db.Create(a).Error; err != nil {
		os.Remove(abs)
		return nil, err
	}
	s.log.Infof("stored upload %s (%s, %d bytes)", a.ID, a.DisplayName, a.Size)
	return a, nil
}

// StageDerived allocates an id and output path for a job about to run.
// Nothing is registered until CommitDerived; a failed job calls Discard.
func (s *Store) StageDerived(ext string) (id string, path string) {
	id = uuid.NewString()
	return id, filepath.Join(s.outputDir, id+ext)
}

// CommitDerived registers the file a succeeded job wrote at the staged
// path. Exactly one derived asset exists per succeeded job.
func (s *Store) CommitDerived(id, ext, sourceID, displayName string) (*Asset, error) {
	rel := filepath.Join("outputs", id+ext)
	info, err := os.Stat(filepath.Join(s.dataDir, rel))
	if err != nil {
		return nil, fmt.Errorf("staged output missing: %w", err)
	}

	a := &Asset{
		ID:          id,
		Kind:        KindForExt(ext),
		StoragePath: rel,
		DisplayName: displayName,
		Size:        info.Size(),
		DerivedFrom: sourceID,
		Origin:      OriginEdit,
	}
	if err := s.db.Create(a).Error; err != nil {
		return nil, err
	}
	s.log.Infof("registered derived asset %s from %s (%d bytes)", a.ID, sourceID, a.Size)
	return a, nil
}

// Discard removes a staged output that will never be committed.
func (s *Store) Discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("could not discard staged output %s: %v", path, err)
	}
}

func (s *Store) Get(id string) (*Asset, error) {
	var a Asset
	err := s.db.First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Path returns the absolute on-disk location for an asset.
func (s *Store) Path(a *Asset) string {
	return filepath.Join(s.dataDir, a.StoragePath)
}

// List returns assets filtered by origin ("upload", "edit", or "" for all),
// newest first.
func (s *Store) List(origin string) ([]Asset, error) {
	var out []Asset
	q := s.db.Order("created_at DESC")
	if origin != "" {
		q = q.Where("origin = ?", origin)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SetDuration records a probed duration against an asset.
func (s *Store) SetDuration(id string, seconds float64) error {
	return s.db.Model(&Asset{}).Where("id = ?", id).Update("duration", seconds).Error
}

// SetInFlight registers a callback consulted before deletes, reporting
// whether a queued or running job still references the asset. Set once at
// wiring time; keeps the store free of a dependency on the job package.
func (s *Store) SetInFlight(fn func(id string) bool) {
	s.inFlight = fn
}

// Delete removes an asset's file and index row. Assets referenced by an
// in-flight job are refused, not queued.
func (s *Store) Delete(id string) error {
	a, err := s.Get(id)
	if err != nil {
		return err
	}
	if s.inFlight != nil && s.inFlight(id) {
		return ErrConflict
	}
	if err := os.Remove(s.Path(a)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.db.Delete(&Asset{}, "id = ?", id).Error
}

// ResolveOutput maps a bare output filename to its absolute path.
// Rejects anything that is not a plain file name.
func (s *Store) ResolveOutput(filename string) (string, error) {
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid filename")
	}
	full := filepath.Join(s.outputDir, filename)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return "", ErrNotFound
	}
	return full, nil
}
