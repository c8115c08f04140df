package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// MBTileVersion mbtiles版本号
const MBTileVersion = "1.3"

// tileStore 瓦片存储
type tileStore interface {
	Save(tile Tile) error
	Close() error
}

// fileStore 按 z/x/y.format 保存到目录
type fileStore struct {
	dir    string
	format string
}

func (s fileStore) Save(tile Tile) error { return saveToFiles(tile, s.dir, s.format) }

func (s fileStore) Close() error { return nil }

// sqlStore 批量写入 MBTiles 或 MySQL 的 tiles 表
type sqlStore struct {
	db        *sql.DB
	driver    string
	batchSize int

	mu    sync.Mutex
	batch []Tile
}

func openMBTilesStore(path string, batchSize int, meta map[string]string) (*sqlStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite 单连接写入
	db.SetMaxOpenConns(1)
	if err := optimizeConnection(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &sqlStore{db: db, driver: "sqlite3", batchSize: batchSize}
	if err := s.setupTables("blob", meta); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openMySQLStore(conn string, batchSize int, meta map[string]string) (*sqlStore, error) {
	db, err := sql.Open("mysql", conn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	s := &sqlStore{db: db, driver: "mysql", batchSize: batchSize}
	if err := s.setupTables("mediumblob", meta); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func optimizeConnection(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA synchronous=1",
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA journal_mode=OFF",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) setupTables(blobType string, meta map[string]string) error {
	stmts := []string{
		fmt.Sprintf("create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data %s);", blobType),
		"create table if not exists metadata (name varchar(50), value text);",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	// 索引已存在时忽略
	_, _ = s.db.Exec("create unique index name on metadata (name);")
	_, _ = s.db.Exec("create unique index tile_index on tiles (zoom_level, tile_column, tile_row);")

	for name, value := range meta {
		if _, err := s.db.Exec(s.insertVerb()+" into metadata (name, value) values (?, ?)", name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) insertVerb() string {
	if s.driver == "mysql" {
		return "insert ignore"
	}
	return "insert or ignore"
}

// Save 缓存瓦片, 满一批时写入
func (s *sqlStore) Save(tile Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, tile)
	if len(s.batch) < s.batchSize {
		return nil
	}
	return s.flush()
}

func (s *sqlStore) flush() error {
	if len(s.batch) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt := s.insertVerb() + " into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);"
	for _, tile := range s.batch {
		if _, err := tx.Exec(stmt, int64(tile.T.Z), int64(tile.T.X), int64(tile.flipY()), tile.C); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.batch = s.batch[:0]
	return nil
}

// Close 写入剩余瓦片并关闭连接
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flush(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
