package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，文件名以版本号开头，例如 0001_create_task_states.sql。
//
//go:embed *.sql
var Files embed.FS
