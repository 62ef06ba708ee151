package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/veranemoloko/romfetch/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	crc32       TEXT,
	rom_name    TEXT,
	name        TEXT NOT NULL,
	system      TEXT NOT NULL,
	developer   TEXT,
	description TEXT
);
CREATE INDEX IF NOT EXISTS idx_games_crc32 ON games(crc32);
CREATE INDEX IF NOT EXISTS idx_games_rom_name ON games(rom_name COLLATE NOCASE);
`

// Game is one row of the ROM database.
type Game struct {
	CRC32       string
	RomName     string
	Name        string
	SystemID    string
	Developer   string
	Description string
}

// RomDB is a SQLite-backed ROM catalogue keyed by CRC32 and ROM file name.
type RomDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenRomDB opens (or creates) the database at path. Use ":memory:" for a
// throwaway database.
func OpenRomDB(path string, logger *slog.Logger) (*RomDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rom db: %w", err)
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init rom db schema: %w", err)
	}
	return &RomDB{db: db, logger: logger}, nil
}

func (r *RomDB) Close() error {
	return r.db.Close()
}

// Insert adds a game. CRCs are stored upper-case.
func (r *RomDB) Insert(ctx context.Context, g Game) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO games (crc32, rom_name, name, system, developer, description) VALUES (?, ?, ?, ?, ?, ?)`,
		nullable(strings.ToUpper(g.CRC32)), nullable(g.RomName), g.Name, g.SystemID,
		nullable(g.Developer), nullable(g.Description),
	)
	if err != nil {
		return fmt.Errorf("insert game %q: %w", g.Name, err)
	}
	return nil
}

// Count returns the number of games in the database.
func (r *RomDB) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}

// Lookup tries the CRC, then the archive's internal name, then the file
// name. It returns nil without error when nothing matches.
func (r *RomDB) Lookup(ctx context.Context, f domain.RomFile) (*domain.GameMetadata, error) {
	if crc := strings.ToUpper(f.CRC); crc != "" && crc != "00000000" {
		m, err := r.queryOne(ctx, `crc32 = ?`, crc)
		if m != nil || err != nil {
			return m, err
		}
	}
	for _, name := range []string{f.InternalName, f.Name} {
		if name == "" {
			continue
		}
		m, err := r.queryOne(ctx, `rom_name = ? COLLATE NOCASE`, name)
		if m != nil || err != nil {
			return m, err
		}
	}
	return nil, nil
}

func (r *RomDB) queryOne(ctx context.Context, where string, arg any) (*domain.GameMetadata, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT name, rom_name, system, developer, description FROM games WHERE `+where+` LIMIT 1`, arg)

	var (
		name, system          string
		romName, dev, descrip sql.NullString
	)
	if err := row.Scan(&name, &romName, &system, &dev, &descrip); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query rom db: %w", err)
	}

	return &domain.GameMetadata{
		Name:         name,
		RomName:      romName.String,
		SystemID:     system,
		Developer:    dev.String,
		Description:  descrip.String,
		ThumbnailURL: ThumbnailURL(system, name),
	}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
