package config

// EnvPrefix is prepended to every environment variable name, e.g. ONAIR_DB_PATH.
const EnvPrefix = "ONAIR"

// DefaultConfigFiles are searched in order; later files override earlier ones.
var DefaultConfigFiles = []string{"./onair.hcl", "./onair.local.hcl"}

const (
	RemoteFeedsURL = "https://raw.githubusercontent.com/reddot-watch/curated-world-news/main/feeds.csv"

	// Rotator names hosted by the server.
	RotatorArticles = "articles"
	RotatorMeWires  = "me-wires"
	RotatorRSSWires = "rss-wires"
)
