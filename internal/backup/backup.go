// Package backup snapshots the SQLite databases into compressed local
// archives and optionally mirrors them to S3 compatible storage.
// Snapshots use VACUUM INTO so a live database is copied consistently
// without blocking writers.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// archivePrefix and archiveTimeFormat name every archive; rotation
	// parses timestamps back out of the names.
	archivePrefix     = "steward-backup-"
	archiveTimeFormat = "2006-01-02-150405"

	// minArchivesToKeep archives always survive rotation regardless of age.
	minArchivesToKeep = 3

	metadataFilename = "backup-metadata.json"
)

// Source is one database to include in a snapshot.
type Source struct {
	Name string
	DB   *sql.DB
}

// Uploader mirrors archives to remote storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]RemoteObject, error)
	Delete(ctx context.Context, key string) error
}

// RemoteObject is one stored archive on the remote side.
type RemoteObject struct {
	Key  string
	Size int64
}

// Metadata describes the databases inside an archive.
type Metadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Format    string             `json:"format"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database file in an archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Archive is a completed local snapshot.
type Archive struct {
	Name      string             `json:"name"`
	Path      string             `json:"path"`
	SizeBytes int64              `json:"size_bytes"`
	CreatedAt time.Time          `json:"created_at"`
	Databases []DatabaseMetadata `json:"databases"`
}

// Info summarizes a stored archive for listings.
type Info struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	Timestamp time.Time `json:"timestamp"`
	AgeHours  int64     `json:"age_hours"`
}

// RunOptions control a backup run.
type RunOptions struct {
	Upload        bool
	RetentionDays int
}

// Service creates, lists and rotates database backups.
type Service struct {
	sources   []Source
	backupDir string
	uploader  Uploader
	log       zerolog.Logger
}

// NewService creates a backup service writing archives to backupDir.
func NewService(sources []Source, backupDir string, log zerolog.Logger) *Service {
	return &Service{
		sources:   sources,
		backupDir: backupDir,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// SetUploader attaches remote storage. Without one, runs are local only.
func (s *Service) SetUploader(u Uploader) {
	s.uploader = u
}

// Run executes a full backup cycle: snapshot, optional upload, then
// rotation on both sides. Rotation failures are logged, not returned;
// the snapshot itself is the thing that must not fail silently.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*Archive, error) {
	archive, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if opts.Upload {
		if s.uploader == nil {
			s.log.Debug().Msg("No uploader configured, skipping upload")
		} else {
			if err := s.upload(ctx, archive); err != nil {
				return archive, err
			}
			if err := s.rotateRemote(ctx, opts.RetentionDays); err != nil {
				s.log.Warn().Err(err).Msg("Remote backup rotation failed")
			}
		}
	}

	if _, err := s.PruneLocal(opts.RetentionDays); err != nil {
		s.log.Warn().Err(err).Msg("Local backup rotation failed")
	}

	return archive, nil
}

// Snapshot copies every source database into a staging directory,
// writes a metadata file with sizes and checksums, and packs the lot
// into a timestamped tar.gz under the backup directory.
func (s *Service) Snapshot(ctx context.Context) (*Archive, error) {
	if len(s.sources) == 0 {
		return nil, fmt.Errorf("no databases to back up")
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	staging := filepath.Join(s.backupDir, "staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	started := time.Now().UTC()
	meta := Metadata{
		Timestamp: started,
		Format:    "1",
		Databases: make([]DatabaseMetadata, 0, len(s.sources)),
	}

	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dest := filepath.Join(staging, src.Name+".db")
		s.log.Debug().Str("database", src.Name).Msg("Snapshotting database")
		if err := snapshotDatabase(ctx, src.DB, dest); err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", src.Name, err)
		}

		info, err := os.Stat(dest)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s snapshot: %w", src.Name, err)
		}
		checksum, err := fileChecksum(dest)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s snapshot: %w", src.Name, err)
		}

		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name:      src.Name,
			Filename:  src.Name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	if err := writeMetadata(filepath.Join(staging, metadataFilename), meta); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	name := archivePrefix + started.Format(archiveTimeFormat) + ".tar.gz"
	path := filepath.Join(s.backupDir, name)
	if err := createArchive(path, staging); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	s.log.Info().
		Str("archive", name).
		Int64("size_bytes", info.Size()).
		Int("databases", len(meta.Databases)).
		Msg("Backup archive created")

	return &Archive{
		Name:      name,
		Path:      path,
		SizeBytes: info.Size(),
		CreatedAt: started,
		Databases: meta.Databases,
	}, nil
}

// ListLocal returns the stored archives, newest first.
func (s *Service) ListLocal() ([]Info, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	now := time.Now()
	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ts, ok := parseArchiveTime(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:      entry.Name(),
			SizeBytes: fi.Size(),
			Timestamp: ts,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.After(infos[j].Timestamp) })
	return infos, nil
}

// PruneLocal deletes local archives older than retentionDays, always
// keeping the newest minArchivesToKeep. Zero retention keeps everything.
func (s *Service) PruneLocal(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	infos, err := s.ListLocal()
	if err != nil {
		return 0, err
	}
	if len(infos) <= minArchivesToKeep {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, info := range infos {
		if i < minArchivesToKeep {
			continue
		}
		if info.Timestamp.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.backupDir, info.Name)); err != nil {
				s.log.Warn().Err(err).Str("archive", info.Name).Msg("Failed to delete old archive")
				continue
			}
			s.log.Info().Str("archive", info.Name).Msg("Deleted old local archive")
			deleted++
		}
	}
	return deleted, nil
}

func (s *Service) upload(ctx context.Context, archive *Archive) error {
	file, err := os.Open(archive.Path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	if err := s.uploader.Upload(ctx, archive.Name, file, archive.SizeBytes); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().Str("archive", archive.Name).Msg("Backup uploaded")
	return nil
}

// rotateRemote deletes remote archives older than retentionDays,
// keeping the newest minArchivesToKeep like the local side.
func (s *Service) rotateRemote(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	objects, err := s.uploader.List(ctx, archivePrefix)
	if err != nil {
		return fmt.Errorf("failed to list remote backups: %w", err)
	}

	type remote struct {
		key string
		ts  time.Time
	}
	remotes := make([]remote, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseArchiveTime(obj.Key)
		if !ok {
			continue
		}
		remotes = append(remotes, remote{key: obj.Key, ts: ts})
	}
	if len(remotes) <= minArchivesToKeep {
		return nil
	}

	sort.Slice(remotes, func(i, j int) bool { return remotes[i].ts.After(remotes[j].ts) })

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for i, r := range remotes {
		if i < minArchivesToKeep {
			continue
		}
		if r.ts.Before(cutoff) {
			if err := s.uploader.Delete(ctx, r.key); err != nil {
				s.log.Warn().Err(err).Str("key", r.key).Msg("Failed to delete remote archive")
				continue
			}
			s.log.Info().Str("key", r.key).Msg("Deleted old remote archive")
		}
	}
	return nil
}

// snapshotDatabase copies a live database into dest. VACUUM INTO
// refuses to overwrite, which is what we want inside a fresh staging
// directory.
func snapshotDatabase(ctx context.Context, db *sql.DB, dest string) error {
	quoted := strings.ReplaceAll(dest, "'", "''")
	_, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted))
	return err
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, meta Metadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(meta)
}

// createArchive packs every regular file in sourceDir into a tar.gz.
func createArchive(archivePath, sourceDir string) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return err
	}

	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, entry.Name()), entry.Name()); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", entry.Name(), err)
		}
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}

func parseArchiveTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), ".tar.gz")
	ts, err := time.Parse(archiveTimeFormat, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
