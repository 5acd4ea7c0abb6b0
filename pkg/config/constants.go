package config

// EnvPrefix is passed to envconfig; individual fields carry explicit
// BRANDVAULT_-prefixed names so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "BRANDVAULT_DB_DSN"
	EnvDBHost = "BRANDVAULT_DB_HOST"
	EnvDBUser = "BRANDVAULT_DB_USER"
	EnvDBName = "BRANDVAULT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
