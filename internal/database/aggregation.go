package database

import (
	"database/sql"
	"strings"
)

// Summary 资产库汇总
type Summary struct {
	Total    int
	Hidden   int
	Alive    int
	BySource map[string]int
}

// Summarize 统计目标的资产数、隐藏资产数、存活数和各来源数量
func Summarize(db *sql.DB, target string) (Summary, error) {
	s := Summary{BySource: make(map[string]int)}
	rows, err := db.Query("SELECT sources, hidden, alive FROM assets WHERE target = ?", target)
	if err != nil {
		return s, err
	}
	defer rows.Close()

	for rows.Next() {
		var sources string
		var hidden, alive int
		if err := rows.Scan(&sources, &hidden, &alive); err != nil {
			continue
		}
		s.Total++
		if hidden == 1 {
			s.Hidden++
		}
		if alive == aliveYes {
			s.Alive++
		}
		for _, src := range strings.Split(sources, ";") {
			if src = strings.TrimSpace(src); src != "" {
				s.BySource[src]++
			}
		}
	}
	return s, rows.Err()
}
