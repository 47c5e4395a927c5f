package converter

import (
	"time"
)

// Result is the outcome of one successfully converted file. It is
// produced once and never modified.
type Result struct {
	File         string        // file identifier (path relative to the input dir)
	Output       string        // URI of the written document
	Records      int           // number of records read and written
	Bytes        int           // size of the written document
	Checksum     string        // sha256 of the written document
	Elapsed      time.Duration // time from run start to completion of this file
	FileDuration time.Duration // time spent on this file alone
	CompletedAt  time.Time
}
