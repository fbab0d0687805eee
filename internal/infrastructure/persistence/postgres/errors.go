package postgres

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// pqUniqueViolation PostgreSQL unique_violation
const pqUniqueViolation = "23505"

// isUniqueViolation 判断是否违反唯一约束
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	// SQLite 未翻译的错误
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNotFound(err error) bool {
	return stderrors.Is(err, gorm.ErrRecordNotFound)
}

// quoteIdent 以双引号引用标识符，PostgreSQL 与 SQLite 通用
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
