package strata

import "time"

// NopStats discards all observations. Used when OpenConfig.Stats is nil.
var NopStats StatsRecorder = nopStats{}

type nopStats struct{}

func (nopStats) RecordIndexReadLatency(string, time.Duration) {}

func (nopStats) RecordDataReadBytes(string, int64) {}
