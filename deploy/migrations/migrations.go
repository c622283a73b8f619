package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// Files 暴露所有方言的 SQL 迁移文件，按方言分目录存放。
//
//go:embed sqlite/*.sql mysql/*.sql postgres/*.sql
var Files embed.FS

// Migration 是一个版本化的迁移文件。
type Migration struct {
	Version    string
	Name       string
	Statements []string
}

// Load 读取指定方言目录下的迁移文件，按版本号排序返回。
func Load(dialect string) ([]Migration, error) {
	entries, err := fs.ReadDir(Files, dialect)
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录 %s 失败: %w", dialect, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		content, err := Files.ReadFile(dialect + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		migrations = append(migrations, Migration{
			Version:    parseVersion(name),
			Name:       name,
			Statements: statements,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].Version == migrations[j].Version {
			return migrations[i].Name < migrations[j].Name
		}
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		statements = append(statements, trimmed)
	}
	return statements
}

func parseVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}
