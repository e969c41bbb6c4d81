package config

const (
	// TagDictionaryFileName は data/ 配下のタグ辞書ファイル名
	TagDictionaryFileName = "tags.json"

	// DefaultRedisPrefix は全Redisキーの名前空間
	DefaultRedisPrefix = "tehais"

	// DefaultSQLiteFile は sqlite バックエンドの data/ 配下のデータベースファイル名
	DefaultSQLiteFile = "tehais.db"

	// DataFilePermission はデータファイルのパーミッション
	DataFilePermission = 0644
)
