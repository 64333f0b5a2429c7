package transport

import "sync/atomic"

func setAlive(p *int64, v int64)  { atomic.StoreInt64(p, v) }
func loadAlive(p *int64) int64    { return atomic.LoadInt64(p) }
