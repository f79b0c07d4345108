package server

import "time"

type Config struct {
	Addr string `default:":5002"`
	// RequireTransactionID answers 200 only when the outcome carries an id.
	RequireTransactionID bool          `split_words:"true" default:"true"`
	ReadHeaderTimeout    time.Duration `split_words:"true" default:"5s"`
	ShutdownTimeout      time.Duration `split_words:"true" default:"10s"`
	MaxBodyBytes         int64         `split_words:"true" default:"65536"`
}

var DefaultConfig = Config{
	Addr:                 ":5002",
	RequireTransactionID: true,
	ReadHeaderTimeout:    5 * time.Second,
	ShutdownTimeout:      10 * time.Second,
	MaxBodyBytes:         64 << 10,
}
