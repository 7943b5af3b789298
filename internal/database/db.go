package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"deepx/internal/model"
)

const timeLayout = time.RFC3339

const (
	aliveUnknown = -1
	aliveNo      = 0
	aliveYes     = 1
)

// Asset 资产库中的一条子域名记录
type Asset struct {
	Target     string
	Domain     string
	Sources    string // 分号分隔的来源，如 deep;fofa
	Hidden     bool
	Alive      int
	StatusCode int
	Title      string
	URL        string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// AliveState 存活状态的文字描述
func (a Asset) AliveState() string {
	switch a.Alive {
	case aliveYes:
		return "alive"
	case aliveNo:
		return "dead"
	}
	return "unknown"
}

// 合并字符串（去重 + 分号连接，按字典序）
func mergeValues(a, b string) string {
	m := make(map[string]bool)
	for _, val := range strings.Split(a+";"+b, ";") {
		val = strings.TrimSpace(val)
		if val != "" {
			m[val] = true
		}
	}
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Strings(result)
	return strings.Join(result, ";")
}

// InitDB 初始化 SQLite 数据库和资产表
func InitDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), os.ModePerm); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// 单连接，避免并发写入时 database is locked
	db.SetMaxOpenConns(1)

	// 设置数据库编码为UTF-8
	if _, err := db.Exec("PRAGMA encoding = 'UTF-8'"); err != nil {
		db.Close()
		return nil, err
	}

	createStmt := `
CREATE TABLE IF NOT EXISTS assets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target TEXT NOT NULL,
    domain TEXT NOT NULL UNIQUE,
    sources TEXT NOT NULL DEFAULT '',
    hidden INTEGER NOT NULL DEFAULT 0,
    alive INTEGER NOT NULL DEFAULT -1,
    status_code INTEGER NOT NULL DEFAULT 0,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_target ON assets(target);
`
	if _, err := db.Exec(createStmt); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SaveDomains 写入某来源的子域名，已存在的记录合并来源并刷新 last_seen
func SaveDomains(db *sql.DB, target, source string, domains model.DomainSet, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	queryStmt, err := tx.Prepare("SELECT sources FROM assets WHERE domain = ?")
	if err != nil {
		return err
	}
	defer queryStmt.Close()

	upsertStmt, err := tx.Prepare(`
INSERT INTO assets (target, domain, sources, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(domain) DO UPDATE SET
    sources = excluded.sources,
    last_seen = excluded.last_seen;
`)
	if err != nil {
		return err
	}
	defer upsertStmt.Close()

	stamp := now.Format(timeLayout)
	for _, domain := range domains.Sorted() {
		var existing string
		err := queryStmt.QueryRow(domain).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("query %s: %w", domain, err)
		}
		if _, err := upsertStmt.Exec(target, domain, mergeValues(existing, source), stamp, stamp); err != nil {
			return fmt.Errorf("upsert %s: %w", domain, err)
		}
	}
	return tx.Commit()
}

// MarkHidden 重置目标的隐藏标记并标记 hidden 中的域名
func MarkHidden(db *sql.DB, target string, hidden model.DomainSet) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE assets SET hidden = 0 WHERE target = ?", target); err != nil {
		return err
	}
	stmt, err := tx.Prepare("UPDATE assets SET hidden = 1 WHERE domain = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, domain := range hidden.Sorted() {
		if _, err := stmt.Exec(domain); err != nil {
			return fmt.Errorf("mark %s: %w", domain, err)
		}
	}
	return tx.Commit()
}

// SaveAlive 写入存活检测结果，未入库的域名以 alive 来源新增
func SaveAlive(db *sql.DB, target string, results []model.AliveResult, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO assets (target, domain, sources, alive, status_code, title, url, first_seen, last_seen)
VALUES (?, ?, 'alive', ?, ?, ?, ?, ?, ?)
ON CONFLICT(domain) DO UPDATE SET
    alive = excluded.alive,
    status_code = excluded.status_code,
    title = excluded.title,
    url = excluded.url,
    last_seen = excluded.last_seen;
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	stamp := now.Format(timeLayout)
	for _, r := range results {
		alive := aliveNo
		if r.IsAlive() {
			alive = aliveYes
		}
		status, _ := r.StatusCode()
		title, _ := r.Title()
		url := r.URL()
		if final, ok := r.FinalURL(); ok {
			url = final
		}
		if _, err := stmt.Exec(target, r.Domain(), alive, status, title, url, stamp, stamp); err != nil {
			return fmt.Errorf("save alive %s: %w", r.Domain(), err)
		}
	}
	return tx.Commit()
}

// ListAssets 列出资产，target 为空时返回全部
func ListAssets(db *sql.DB, target string) ([]Asset, error) {
	query := "SELECT target, domain, sources, hidden, alive, status_code, title, url, first_seen, last_seen FROM assets"
	var args []any
	if target != "" {
		query += " WHERE target = ?"
		args = append(args, target)
	}
	query += " ORDER BY target, domain"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		var hidden int
		var first, last string
		if err := rows.Scan(&a.Target, &a.Domain, &a.Sources, &hidden, &a.Alive, &a.StatusCode, &a.Title, &a.URL, &first, &last); err != nil {
			return nil, err
		}
		a.Hidden = hidden == 1
		a.FirstSeen, _ = time.Parse(timeLayout, first)
		a.LastSeen, _ = time.Parse(timeLayout, last)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
