// Package migration はSQLデータベースのスキーママイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、schema_migrations テーブルで適用状態を追跡する。
// SQLiteとPostgreSQLの両方に対応する。
package migration
