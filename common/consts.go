package common

const (
	PRIVATE_CREDENTIALS_DOTENV = ".env.private"
	DEFAULT_CONFIG_DIR         = ".config/"
	DEFAULT_CONFIG_FILE        = "config.json"

	DEFAULT_LISTEN_ADDR    = ":4000"
	DEFAULT_REDIS_ADDR     = "localhost:6379"
	DEFAULT_REDIS_PASSWORD = ""
	DEFAULT_REDIS_PREFIX   = "webnova:"

	DEFAULT_RETRY_DELAY_DAYS  = 3
	DEFAULT_GRACE_PERIOD_DAYS = 7
	DEFAULT_RETRY_INTERVAL    = "1h"

	DEFAULT_CURRENCY = "usd"
	FREE_ROLE        = "free"

	PROVIDER_STRIPE = "stripe"
)
